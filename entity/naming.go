package entity

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// DefaultTableName derives a physical table from an entity name:
// mailingRecipient becomes mailing_recipients.
func DefaultTableName(name string) string {
	return toSnake(inflection.Plural(name))
}

// DefaultCacheKey is the logical key under which the select-all result of an
// entity is cached: file becomes files.
func DefaultCacheKey(name string) string {
	return inflection.Plural(name)
}

// toSnake lower cases s and separates words with underscores. Runs of
// punctuation collapse into one separator so the result is safe as a table
// identifier.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					pendingSep = true
				}
			}
			writeSnakeRune(&b, unicode.ToLower(r), &pendingSep)
		case unicode.IsLower(r), unicode.IsDigit(r):
			writeSnakeRune(&b, r, &pendingSep)
		default:
			pendingSep = true
		}
	}

	return b.String()
}

func writeSnakeRune(b *strings.Builder, r rune, pendingSep *bool) {
	if *pendingSep && b.Len() > 0 {
		b.WriteByte('_')
	}
	*pendingSep = false
	b.WriteRune(r)
}
