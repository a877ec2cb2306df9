package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsNumbers(t *testing.T) {
	fields, err := Decode([]byte(`{"id":12345678901234567,"data":{"size":"L"}}`))
	require.NoError(t, err)

	assert.Equal(t, json.Number("12345678901234567"), fields["id"])
	assert.Equal(t, "12345678901234567", fields.String("id"))

	data, ok := fields.Object("data")
	require.True(t, ok)
	assert.Equal(t, "L", data.String("size"))
}

func TestDecodeNull(t *testing.T) {
	fields, err := Decode([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, fields)
	assert.Empty(t, fields)
}

func TestDecodeRejectsNonObject(t *testing.T) {
	_, err := Decode([]byte(`[1]`))
	assert.Error(t, err)
}

func TestObjectMissingOrScalar(t *testing.T) {
	fields := Fields{"data": "nope"}
	_, ok := fields.Object("data")
	assert.False(t, ok)
	_, ok = fields.Object("other")
	assert.False(t, ok)

	var empty Fields
	_, ok = empty.Lookup("id")
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	assert.Equal(t, "", String(nil))
	assert.Equal(t, "12", String(float64(12)))
	assert.Equal(t, "1.5", String(1.5))
	assert.Equal(t, "7", String(7))
	assert.Equal(t, "true", String(true))
	assert.Equal(t, "", String([]any{1}))
}

func TestStringNormalisesNumbers(t *testing.T) {
	tests := []struct {
		in   json.Number
		want string
	}{
		{in: "12", want: "12"},
		{in: "3.0", want: "3"},
		{in: "1e3", want: "1000"},
		{in: "1E3", want: "1000"},
		{in: "2.5e1", want: "25"},
		{in: "1.5", want: "1.5"},
		{in: "1.50", want: "1.5"},
		{in: "1.5e-3", want: "0.0015"},
		{in: "-4.0", want: "-4"},
		{in: "12345678901234567890.0", want: "12345678901234567890"},
		{in: "1e999", want: "1e999"},
		{in: "1e-999999999", want: "1e-999999999"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in))
		})
	}
}

func TestID(t *testing.T) {
	assert.Equal(t, "", ID(nil))
	assert.Equal(t, "", ID(json.Number("0")))
	assert.Equal(t, "", ID("  "))
	assert.Equal(t, "42", ID(" 42 "))
	assert.Equal(t, "1000", ID(json.Number("1e3")))
	assert.Equal(t, "3", ID(json.Number("3.0")))
	assert.Equal(t, "", ID(json.Number("0.0")))
	assert.Equal(t, "", ID(json.Number("0e5")))
	assert.Equal(t, "", ID(json.Number("-0.0")))
}
