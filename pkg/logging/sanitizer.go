package logging

import (
	"regexp"
)

const (
	// MaxSQLLogLength is the maximum length of a SQL statement to log.
	MaxSQLLogLength = 200
	// MaxQuestionLogLength is the maximum length of a user question to log.
	MaxQuestionLogLength = 120
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches password=xxx, pwd=xxx, pass=xxx in connection strings and errors.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches API keys passed as key/value pairs.
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Matches user:pass@host credentials embedded in URLs.
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string
// before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError sanitizes error text that may echo connection details, for
// example a pgx connect failure that includes the DSN.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeSQL truncates a generated SQL statement for logging. Generated
// queries can embed filter literals, so credentials patterns are scrubbed too.
func SanitizeSQL(sqlText string) string {
	if sqlText == "" {
		return ""
	}

	sanitized := TruncateString(sqlText, MaxSQLLogLength)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return sanitized
}

// SanitizeQuestion truncates a user question for logging.
func SanitizeQuestion(question string) string {
	return TruncateString(question, MaxQuestionLogLength)
}

// TruncateString truncates a string to maxLen and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
