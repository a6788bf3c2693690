package shaderpipe

import "strings"

// SanitizeName replaces every character outside [A-Za-z0-9_.-] with '_' so a
// program or stage name can be used as a path component.
func SanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
