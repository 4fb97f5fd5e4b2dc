// utils/validator.go - Input validation
package utils

import (
	"regexp"
	"strings"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,64}$`)
)

// ValidateEmail checks if email is valid
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidIdentifier reports whether id is usable as a user or record id.
func ValidIdentifier(id string) bool {
	return identifierRegex.MatchString(id)
}

// SanitizeInput removes potentially harmful characters
func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
