package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reQuotes = regexp.MustCompile(`["'` + "`" + `«»]`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// NormalizeHeader folds a column title so "Locación", "LOCACION " and
// "locacion" compare equal.
func NormalizeHeader(input string) string {
	s := foldAccents(input)
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "_", " ")
	s = reQuotes.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(strings.ReplaceAll(input, "\u00A0", " "), " "))
}

func foldAccents(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		return input
	}
	return out
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
