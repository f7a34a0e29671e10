package filter

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var stripPolicy = bluemonday.StrictPolicy()

// cleanText strips markup, decodes entities and collapses whitespace.
func cleanText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	stripped := html.UnescapeString(stripPolicy.Sanitize(input))
	return strings.Join(strings.Fields(stripped), " ")
}

// headline capitalizes the first letter of every word and leaves the rest of
// the word untouched, so acronyms and brand casing survive.
func headline(input string) string {
	cleaned := cleanText(input)
	if cleaned == "" {
		return ""
	}
	if !hasLower(cleaned) {
		// All-caps shouting headline: lower it first so Title has something to work with.
		return cases.Title(language.English).String(cleaned)
	}
	return cases.Title(language.English, cases.NoLower).String(cleaned)
}

func hasLower(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func normalizeCandidateText(title, description string) (string, string) {
	return headline(title), cleanText(description)
}
