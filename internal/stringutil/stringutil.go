// Package stringutil provides token helpers for capability matching.
package stringutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopWords are tokens too common to carry matching signal
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "that": true, "this": true, "over": true, "all": true,
	"add": true, "new": true, "use": true,
}

// Tokenize lowercases s and splits it into normalized word tokens,
// dropping punctuation, stop words, and tokens shorter than 3 runes.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// NormalizeToken lowercases and trims a single capability or label token
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsEmpty returns true if the string is empty or contains only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
