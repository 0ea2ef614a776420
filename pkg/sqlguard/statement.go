package sqlguard

import (
	"strings"
)

// normalizeStatement trims whitespace and strips one trailing semicolon so
// that the multiple-statement check only sees interior separators.
func normalizeStatement(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)

	sqlText = strings.TrimRight(sqlText, " \t\n\r")
	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSuffix(sqlText, ";")
		sqlText = strings.TrimRight(sqlText, " \t\n\r")
	}

	return sqlText
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals. After normalization, any remaining semicolon
// indicates statement stacking.
func hasSemicolonOutsideStrings(sqlText string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlText {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('').
			// For a doubled quote this exits and immediately re-enters on the
			// next quote, which correctly keeps us inside the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}
