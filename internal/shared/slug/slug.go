package slug

import "strings"

const maxLen = 80

// FromName derives a URL slug from a display name: lowercase ASCII letters
// and digits, with runs of anything else collapsed to single hyphens.
func FromName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if b.Len()+2 > maxLen {
				return b.String()
			}
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "item"
	}
	return s
}
