package session

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MaxClassNameLength bounds sanitized class names, in characters.
const MaxClassNameLength = 30

// SanitizeClassName turns user input into a store key: NFC normalized, trimmed,
// lower-cased, whitespace runs replaced by "-", at most 30 characters.
// Characters the hosted store forbids in keys are dropped.
func SanitizeClassName(name string) string {
	// A Caser is stateful, so each call gets its own.
	folded := cases.Lower(language.German).String(norm.NFC.String(strings.TrimSpace(name)))

	var b strings.Builder
	count := 0
	inSpace := false
	for _, r := range folded {
		if count >= MaxClassNameLength {
			break
		}
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if strings.ContainsRune(".$#[]/", r) || unicode.IsControl(r) {
			continue
		}
		if inSpace && count > 0 {
			if count+1 >= MaxClassNameLength {
				break
			}
			b.WriteRune('-')
			count++
		}
		inSpace = false
		b.WriteRune(r)
		count++
	}
	return b.String()
}
