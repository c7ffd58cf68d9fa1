package sanitize

import (
	"strings"
	"unicode"
)

// Text sanitizes a user- or automation-supplied display string by
// removing control characters and limiting the length. Automations
// occasionally forward raw device output; control sequences must never
// reach the stored document or the notification surfaces.
func Text(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
