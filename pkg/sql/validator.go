// Package sql holds the SQL text helpers used when compiling entropy queries:
// dialects, literal screening and predicate validation.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the text contains more than one SQL statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyPredicate indicates an ad-hoc predicate with no text.
	ErrEmptyPredicate = errors.New("predicate is empty")
)

// ValidatePredicate normalizes a caller supplied WHERE predicate before it is
// spliced into a generated query. The predicate is otherwise passed through
// verbatim; only statement stacking is rejected.
func ValidatePredicate(predicate string) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(predicate))
	if normalized == "" {
		return "", ErrEmptyPredicate
	}
	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// hasSemicolonOutsideStrings reports whether a semicolon appears outside
// single-quoted literals and double-quoted identifiers.
// A doubled quote ('' or "") leaves and re-enters the quoted state.
func hasSemicolonOutsideStrings(text string) bool {
	var quote rune
	for _, char := range text {
		switch {
		case quote != 0:
			if char == quote {
				quote = 0
			}
		case char == '\'' || char == '"':
			quote = char
		case char == ';':
			return true
		}
	}
	return false
}

// stripTrailingSemicolon removes trailing semicolons and surrounding whitespace.
func stripTrailingSemicolon(text string) string {
	text = strings.TrimRight(text, " \t\n\r")
	for strings.HasSuffix(text, ";") {
		text = strings.TrimRight(strings.TrimSuffix(text, ";"), " \t\n\r")
	}
	return text
}
