package gateway

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

const (
	minPhoneDigits    = 8
	maxNationalDigits = 11
	maxE164Digits     = 15
)

// NormalizePhone reduces raw to the digits-only international form the gateway expects.
// Numbers written with a "+" or "00" prefix are taken as international; anything else is
// national, loses its trunk "0", and is prefixed with countryCode when short enough to lack one.
func NormalizePhone(raw, countryCode string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	digits := onlyDigits(trimmed)
	international := strings.HasPrefix(trimmed, "+")
	if !international && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}
	if !international {
		digits = strings.TrimPrefix(digits, "0")
	}
	if len(digits) < minPhoneDigits {
		return "", ErrInvalidPhone
	}
	if !international && len(digits) <= maxNationalDigits {
		digits = onlyDigits(countryCode) + digits
	}
	if len(digits) > maxE164Digits {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
