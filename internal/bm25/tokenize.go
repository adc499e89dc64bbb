package bm25

import (
	"strings"
	"unicode"
)

// Tokenize lowercases s, replaces any rune outside [word characters,
// whitespace, Hangul syllables] with a space, splits on whitespace, and
// drops empty tokens (spec §4.5). Go's unicode.IsLetter already classifies
// Hangul syllables (U+AC00-U+D7A3) as letters, so no separate Hangul check
// is needed once word characters are accepted.
func Tokenize(s string) []string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if isWordRune(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
