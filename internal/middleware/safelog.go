package middleware

import "strings"

// MaskPhone hides all but the last 4 digits of a phone number in logs.
func MaskPhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
