// Package phone validates and normalizes phone numbers to E.164 before any
// dispatch attempt. Numbers in French national format (leading 0) are
// converted using the configured default country code.
package phone

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCountryCode is applied to national-format numbers. The app launched
// in France; override per deployment if that ever changes.
const DefaultCountryCode = "33"

var (
	ErrEmpty        = errors.New("phone: empty number")
	ErrInvalidChars = errors.New("phone: invalid characters")
	ErrBadLength    = errors.New("phone: must have 8-15 digits after +")
	ErrLeadingZero  = errors.New("phone: leading zero after country code")
)

// Normalize converts raw input to E.164 (+<country><number>). Accepts
// separators (spaces, dots, dashes, parentheses), the international 00
// prefix, and national format with a leading 0. Idempotent: an already
// normalized number round-trips unchanged.
func Normalize(raw string) (string, error) {
	return NormalizeWithCountry(raw, DefaultCountryCode)
}

// NormalizeWithCountry is Normalize with an explicit default country code
// for national-format input.
func NormalizeWithCountry(raw, countryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmpty
	}

	plus := strings.HasPrefix(s, "+")
	if plus {
		s = s[1:]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '(' || r == ')':
			// separator, drop
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidChars, r)
		}
	}
	digits := b.String()

	switch {
	case plus:
		// already international
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	default:
		// bare digits, assume country code included
	}

	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("%w (got %d)", ErrBadLength, len(digits))
	}
	if digits[0] == '0' {
		return "", ErrLeadingZero
	}

	return "+" + digits, nil
}

// IsValid reports whether raw normalizes cleanly.
func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}
