package security

import (
	"strings"
	"unicode"
)

// MaxFieldLength caps every sanitized string field.
const MaxFieldLength = 64

// Sanitize strips characters usable for markup or query injection, drops
// control characters, trims surrounding space and caps the length.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		switch r {
		case '<', '>', '"', '\'', '`', ';', '&', '\\', '$', '{', '}':
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > MaxFieldLength {
		out = string(runes[:MaxFieldLength])
	}
	return out
}
