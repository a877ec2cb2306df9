// Package payload holds helpers for the untyped JSON documents returned by
// the relation API.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Fields is a decoded JSON object.
type Fields map[string]any

// Decode parses raw into Fields, keeping numbers as json.Number so ids and
// amounts survive a round trip untouched.
func Decode(raw []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if fields == nil {
		fields = Fields{}
	}
	return fields, nil
}

// Lookup returns the value under key and whether it was present.
func (f Fields) Lookup(key string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f[key]
	return v, ok
}

// Object returns the nested object under key, if any.
func (f Fields) Object(key string) (Fields, bool) {
	v, ok := f.Lookup(key)
	if !ok {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]any:
		return Fields(m), true
	case Fields:
		return m, true
	default:
		return nil, false
	}
}

// String returns the value under key rendered as a string.
func (f Fields) String(key string) string {
	v, _ := f.Lookup(key)
	return String(v)
}

// String renders scalar JSON values as strings. Numbers render in plain
// decimal form without exponent, nil and composite values render as "".
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return number(t.String())
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ID normalises an identifier argument. Blank and zero-like values are empty.
func ID(v any) string {
	s := strings.TrimSpace(String(v))
	if s == "0" {
		return ""
	}
	return s
}

// maxIntBits bounds the integral values number expands from exponent form;
// maxExponent bounds the decimal exponents it parses at all.
const (
	maxIntBits  = 256
	maxExponent = 400
)

// number rewrites a JSON number literal in plain decimal form. Integral
// values lose any fraction or exponent ("3.0", "1e3" become "3", "1000").
func number(lit string) string {
	if !strings.ContainsAny(lit, ".eE") {
		return lit
	}
	if i := strings.IndexAny(lit, "eE"); i >= 0 {
		exp, err := strconv.Atoi(lit[i+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return lit
		}
	}
	f, _, err := big.ParseFloat(lit, 10, maxIntBits, big.ToNearestEven)
	if err != nil {
		return lit
	}
	if f.Sign() == 0 {
		return "0"
	}
	if f.IsInt() {
		if f.MantExp(nil) > maxIntBits {
			return lit
		}
		return f.Text('f', 0)
	}
	return f.Text('f', -1)
}
