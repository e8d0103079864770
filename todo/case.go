package todo

import (
	"strings"
	"unicode"
)

// toSnake lowercases s and puts an underscore before every upper case
// letter that follows a lower case letter or digit. Sort fields arrive as
// camelCase from clients ("createdAt") and as column names from
// configuration ("created_at"); both normalize to the same key. Runs of
// separators collapse into one underscore.
func toSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	var prev rune
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsUpper(r):
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			if prev != '_' && b.Len() > 0 {
				b.WriteByte('_')
			}
			r = '_'
		}
		prev = r
	}
	return strings.TrimRight(b.String(), "_")
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
