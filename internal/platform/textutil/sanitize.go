package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup and control characters from free text and collapses
// surrounding whitespace. Entities produced by the policy are unescaped again so the
// stored value is plain text.
func SanitizePlainText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(plainTextPolicy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}

// NormalizeSKU folds compatibility characters, strips inner whitespace and upper-cases the code.
func NormalizeSKU(value string) string {
	value = norm.NFKC.String(strings.TrimSpace(value))
	value = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
	return strings.ToUpper(value)
}
