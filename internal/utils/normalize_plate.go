package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate keeps only letters and digits and upper-cases them, so
// "ab-123 c" and "AB123C" compare equal.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
