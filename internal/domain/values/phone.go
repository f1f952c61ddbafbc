package values

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated phone number value object
type PhoneNumber struct {
	number string // stored in E.164 format (+1234567890)
}

var (
	// E.164 format: + followed by up to 15 digits
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// bare digit strings without a country code, 7-15 digits
	bareDigitsRegex = regexp.MustCompile(`^[1-9]\d{6,14}$`)
)

// NewPhoneNumber creates a PhoneNumber from user input. Input may carry an
// optional leading +, spaces, dashes, dots or parentheses; the normalized
// form is E.164.
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if number == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	cleaned := cleanPhoneNumber(number)

	if e164Regex.MatchString(cleaned) {
		return PhoneNumber{number: cleaned}, nil
	}

	// No leading + but enough digits to be a plausible subscriber number
	if bareDigitsRegex.MatchString(cleaned) {
		return PhoneNumber{number: "+" + cleaned}, nil
	}

	return PhoneNumber{}, fmt.Errorf("invalid phone number format: %s", number)
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	phone, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return phone
}

// String returns the phone number in E.164 format
func (p PhoneNumber) String() string {
	return p.number
}

// E164 returns the phone number in E.164 format (alias for String)
func (p PhoneNumber) E164() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// MarshalJSON implements json.Marshaler
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements json.Unmarshaler
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	phone, err := NewPhoneNumber(s)
	if err != nil {
		return err
	}
	*p = phone
	return nil
}

// cleanPhoneNumber strips separators commonly found in user input
func cleanPhoneNumber(number string) string {
	var b strings.Builder
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator, drop
		default:
			// keep invalid runes so validation fails loudly
			b.WriteRune(r)
		}
	}
	return b.String()
}
