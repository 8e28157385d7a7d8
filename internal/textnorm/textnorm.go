// Package textnorm folds Portuguese and English text into a comparable form
// for keyword matching: lowercase, no diacritics, word tokens.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks ("Diagnóstico" -> "diagnostico").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokens splits folded text into letter/digit runs.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Normalize folds s and collapses every non letter/digit run into a single
// space, so phrase lookups can be done with padded substring matching.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// ContainsPhrase reports whether phrase occurs in text on token boundaries.
// Both sides are folded, so "Compartilhamentos" matches "compartilhamentos".
func ContainsPhrase(text, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+Normalize(text)+" ", " "+p+" ")
}

// ContainsAny reports whether any phrase occurs in text.
func ContainsAny(text string, phrases []string) bool {
	norm := " " + Normalize(text) + " "
	for _, phrase := range phrases {
		p := Normalize(phrase)
		if p == "" {
			continue
		}
		if strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}

// HasPrefixToken reports whether any token of text starts with one of the
// prefixes. Used for stems like "engajad" that cover several inflections.
func HasPrefixToken(text string, prefixes []string) bool {
	for _, tok := range Tokens(text) {
		for _, p := range prefixes {
			if strings.HasPrefix(tok, p) {
				return true
			}
		}
	}
	return false
}
