package storage

import (
	"strings"
	"unicode"
)

// NormalizeName canonicalizes an object designation for lookups: whitespace,
// underscores and dashes are dropped and letters upper-cased, so "m 1",
// "M1" and "ngc-1952" match "M1" and "NGC1952".
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// NormalizeCatalog canonicalizes a catalog tag ("ngc " -> "NGC").
func NormalizeCatalog(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
