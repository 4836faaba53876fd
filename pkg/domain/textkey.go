package domain

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// RuleTextKey returns the lookup key used for case-insensitive exact rule
// text matching. Two texts match iff their keys are equal; whitespace is
// significant.
func RuleTextKey(text string) string {
	if text == "" {
		return ""
	}
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(norm.NFC.String(text))
}
