// Package tokenize splits raw email text into the token stream consumed
// by the hashing vectorizer.
//
// The rules are intentionally rigid: input is lowercased and tokens are
// maximal runs of letters, digits, underscore, '@', '.', '-' and '/'.
// Everything else separates. The same bytes must tokenize identically at
// training and inference time, so the pattern is a fixed part of the
// model contract, not a tuning knob.
package tokenize

import "regexp"

// tokenPattern matches one token in lowercased text. '@', '.', '-' and
// '/' are kept so addresses, domains and paths survive as single tokens.
var tokenPattern = regexp.MustCompile(`[a-z0-9_@.\-/]+`)

// Split returns the ordered lowercase tokens of text.
// Empty or separator-only input yields a nil slice, never an error.
func Split(text string) []string {
	if text == "" {
		return nil
	}

	return tokenPattern.FindAllString(lower(text), -1)
}

// lower is an ASCII-fast strings.ToLower. Non-ASCII bytes pass through
// untouched, matching the byte-oriented token pattern above.
func lower(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}

	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}

	return string(b)
}
