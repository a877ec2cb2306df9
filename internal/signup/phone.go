package signup

import (
	"errors"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultPhoneRegion      = "NO"
	defaultPhoneCountryCode = "47"
)

var errInvalidPhone = errors.New("invalid phone number")

// PhoneDefaults controls how phone numbers without an explicit country are read.
type PhoneDefaults struct {
	Region      string
	CountryCode string
}

func (s *Signup) phoneDefaults() PhoneDefaults {
	d := PhoneDefaults{}
	if s.resolvers != nil {
		d = s.resolvers.Phone
	}
	if d.Region == "" {
		d.Region = defaultPhoneRegion
	}
	if d.CountryCode == "" {
		d.CountryCode = defaultPhoneCountryCode
	}
	return d
}

// PhoneCountryCode returns the calling code of the signup's phone number.
// Numbers without a leading + are assumed to be domestic. ok is false when
// an international number cannot be parsed.
func (s *Signup) PhoneCountryCode() (code string, ok bool) {
	defaults := s.phoneDefaults()
	phone := s.fields.String("phone")
	if !strings.HasPrefix(phone, "+") {
		return defaults.CountryCode, true
	}

	num, err := parsePhone(phone, defaults.Region)
	if err != nil {
		return "", false
	}
	return strconv.Itoa(int(num.GetCountryCode())), true
}

// PhoneE164 renders the phone number in E.164 form, or "" when there is none
// or it cannot be parsed.
func (s *Signup) PhoneE164() string {
	phone := strings.TrimSpace(s.fields.String("phone"))
	if phone == "" {
		return ""
	}
	num, err := parsePhone(phone, s.phoneDefaults().Region)
	if err != nil {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// parsePhone wraps the parser so a panic on hostile input reads as a parse failure.
func parsePhone(raw, region string) (*phonenumbers.PhoneNumber, error) {
	num := tryOr(func() (*phonenumbers.PhoneNumber, error) {
		return phonenumbers.Parse(raw, region)
	}, nil, nil)
	if num == nil {
		return nil, errInvalidPhone
	}
	return num, nil
}
