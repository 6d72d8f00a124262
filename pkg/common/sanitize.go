package common

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IdentifierCase selects the casing applied by SanitizeIdentifier.
type IdentifierCase int

const (
	UpperCase IdentifierCase = iota
	LowerCase
	TitleCase
	KeepCase
)

var (
	reNonIdent    = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
	reUnderscores = regexp.MustCompile(`_+`)
)

// StripAccents decomposes s (NFD) and drops every combining mark.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// SanitizeIdentifier turns free text into an ASCII identifier:
// accents are removed, "&" becomes "_AND_", every other run of characters
// outside [A-Za-z0-9_] becomes a single underscore, and leading, trailing and
// repeated underscores are removed before the casing is applied.
//
//	SanitizeIdentifier("Négocier contrat", UpperCase) == "NEGOCIER_CONTRAT"
//	SanitizeIdentifier("R&D budget", TitleCase)       == "R_And_D_Budget"
func SanitizeIdentifier(s string, c IdentifierCase) string {
	s = StripAccents(s)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "&", "_AND_")
	s = reNonIdent.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = reUnderscores.ReplaceAllString(s, "_")

	switch c {
	case UpperCase:
		return strings.ToUpper(s)
	case LowerCase:
		return strings.ToLower(s)
	case TitleCase:
		return Title(s)
	}
	return s
}

// Title upper-cases the first letter of every word and lower-cases the rest.
// A word starts after any rune that is not a letter, so "hello_world" becomes
// "Hello_World" and "o'neil" becomes "O'Neil".
func Title(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
