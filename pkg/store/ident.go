package store

import (
	"fmt"
	"strings"
)

// QuoteIdent returns name as an SQLite quoted identifier. Embedded double quotes are
// doubled, so any string that reaches here is treated as a single identifier.
func QuoteIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("identifier must not be empty")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("identifier %q contains a NUL byte", name)
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

// MustQuoteIdent is QuoteIdent for names generated internally
func MustQuoteIdent(name string) string {
	quoted, err := QuoteIdent(name)
	if err != nil {
		panic(err)
	}
	return quoted
}
