// Package sqlguard enforces the read-only policy on generated SQL before it
// may be executed. The checks are deliberately conservative string scans, not
// a parser: the contract favors false rejections over false acceptances.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// Outcome is the result of validating a candidate SQL statement. A rejection
// always carries a human-readable reason naming the violated rule.
type Outcome struct {
	Accepted bool
	Reason   string
}

// deniedKeywords are mutating/DDL keywords rejected anywhere in the text,
// independent of case and word boundaries: an identifier like last_updated
// trips the update rule. A whole-string containment scan, not a parser.
var deniedKeywords = []string{
	"drop", "delete", "truncate", "alter", "create",
	"insert", "update", "grant", "revoke", "execute",
}

var (
	denyPattern = regexp.MustCompile(`(?i)(` + strings.Join(deniedKeywords, "|") + `)`)

	// leadingWordPattern captures the first keyword of the statement.
	leadingWordPattern = regexp.MustCompile(`^[A-Za-z]+`)

	// fromJoinPattern captures table references after FROM/JOIN. Subqueries
	// start with '(' and are intentionally not captured.
	fromJoinPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_][A-Za-z0-9_.]*)`)

	// ctePattern captures names declared in a WITH clause; those are query-local
	// and exempt from the table prefix rule.
	ctePattern = regexp.MustCompile(`(?i)(?:\bwith\b|,)\s*([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
)

// tableExemptions are FROM/JOIN targets that are not table names.
var tableExemptions = map[string]bool{
	"lateral":         true,
	"unnest":          true,
	"generate_series": true,
}

// Guard validates candidate SQL against the read-only security policy.
// Pure and deterministic: identical input always yields identical output,
// with no I/O and no logging.
type Guard struct {
	tablePrefix string
}

// New creates a guard. tablePrefix enables the namespace rule; pass an empty
// string to disable it.
func New(tablePrefix string) *Guard {
	return &Guard{tablePrefix: tablePrefix}
}

// Validate checks the candidate SQL against every policy rule and reports
// all violations in the rejection reason.
func (g *Guard) Validate(sqlText string) Outcome {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return reject("empty statement")
	}

	var reasons []string

	// Rule 1: statement shape. SELECT may lead, or WITH for CTE queries; a
	// WITH-led statement still has to contain a SELECT and passes every
	// other rule.
	leading := leadingWordPattern.FindString(trimmed)
	if !strings.EqualFold(leading, "select") && !strings.EqualFold(leading, "with") {
		if leading == "" {
			leading = trimmed[:1]
		}
		reasons = append(reasons, fmt.Sprintf("statement must be a SELECT query, got %s", strings.ToUpper(leading)))
	}

	// Rule 2: forbidden vocabulary anywhere in the text.
	seen := map[string]bool{}
	for _, kw := range denyPattern.FindAllString(trimmed, -1) {
		upper := strings.ToUpper(kw)
		if !seen[upper] {
			seen[upper] = true
			reasons = append(reasons, "forbidden operation: "+upper)
		}
	}

	// Rule 3: single statement only.
	normalized := normalizeStatement(trimmed)
	if hasSemicolonOutsideStrings(normalized) {
		reasons = append(reasons, "multiple SQL statements are not allowed")
	}

	// Rule 4: namespace policy.
	if g.tablePrefix != "" {
		for _, bare := range g.bareTableReferences(normalized) {
			reasons = append(reasons, fmt.Sprintf("table %q lacks required prefix %q", bare, g.tablePrefix))
		}
	}

	if len(reasons) > 0 {
		return reject(strings.Join(reasons, "; "))
	}
	return Outcome{Accepted: true}
}

// bareTableReferences returns FROM/JOIN targets that lack the mandatory
// prefix. CTE names and set-returning functions are exempt. This is a
// heuristic substring check; callers log rejections it produces as warnings
// so false positives are visible.
func (g *Guard) bareTableReferences(sqlText string) []string {
	cteNames := map[string]bool{}
	for _, m := range ctePattern.FindAllStringSubmatch(sqlText, -1) {
		cteNames[strings.ToLower(m[1])] = true
	}

	var bare []string
	seen := map[string]bool{}
	for _, m := range fromJoinPattern.FindAllStringSubmatch(sqlText, -1) {
		name := m[1]
		// For schema-qualified names, the prefix rule applies to the relation.
		base := name
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
			base = name[idx+1:]
		}
		lower := strings.ToLower(base)
		if cteNames[lower] || tableExemptions[lower] {
			continue
		}
		if !strings.HasPrefix(lower, g.tablePrefix) && !seen[lower] {
			seen[lower] = true
			bare = append(bare, base)
		}
	}
	return bare
}

func reject(reason string) Outcome {
	return Outcome{Accepted: false, Reason: reason}
}
