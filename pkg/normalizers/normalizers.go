// Package normalizers canonicalizes contact fields before comparison.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// StripDiacritics decomposes s and drops combining marks, so "João" becomes "Joao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps only digits.
func NormalizePhone(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeName lowercases, strips diacritics, drops everything that is not a letter or a space
// and collapses runs of whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(StripDiacritics(s))

	var result strings.Builder
	prevSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// NormalizeOrganization applies name normalization to a company name.
func NormalizeOrganization(s string) string {
	return NormalizeName(s)
}
