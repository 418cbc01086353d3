package util

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`^09[0-9]{9}$`)
	digitPattern = regexp.MustCompile(`^[0-9]+$`)
)

// IsValidPhone reports whether s is a well-formed Iranian mobile number
// (11 digits, 09 prefix).
func IsValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// IsValidOTPCode reports whether s is a numeric string of exactly length digits.
func IsValidOTPCode(s string, length int) bool {
	return len(s) == length && digitPattern.MatchString(s)
}

// TrimInput strips surrounding whitespace from user-supplied fields.
func TrimInput(s string) string {
	return strings.TrimSpace(s)
}
