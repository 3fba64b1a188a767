// Package sqlnorm holds the string heuristics shared by the analyzers:
// query normalization, statement classification, and best-effort table
// extraction. Everything here is regex and string scanning on purpose;
// a real SQL parser would change behavior on edge cases like literals
// containing keywords.
package sqlnorm

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

var (
	paramRegex        = regexp.MustCompile(`\$\d+`)
	singleQuotedRegex = regexp.MustCompile(`'[^']*'`)
	doubleQuotedRegex = regexp.MustCompile(`"[^"]*"`)
	numberRegex       = regexp.MustCompile(`\d+`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	fromTableRegex    = regexp.MustCompile(`(?i)\bFROM\s+["']?([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// Normalize collapses a SQL query to its structural shape: parameter
// placeholders, quoted strings, and numeric literals become "?", and
// whitespace runs become a single space. Queries that differ only in
// bound values normalize to the same string, making the result usable
// as a grouping key.
func Normalize(query string) string {
	normalized := paramRegex.ReplaceAllString(query, "?")
	normalized = singleQuotedRegex.ReplaceAllString(normalized, "?")
	normalized = doubleQuotedRegex.ReplaceAllString(normalized, "?")
	normalized = numberRegex.ReplaceAllString(normalized, "?")
	normalized = whitespaceRegex.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// IsSelect reports whether the trimmed query text begins with SELECT,
// case-insensitively.
func IsSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

// TableName extracts the first identifier following FROM, with quoting
// stripped. Returns "" when no table can be found (subqueries, missing
// FROM, malformed text).
func TableName(query string) string {
	matches := fromTableRegex.FindStringSubmatch(query)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// GuessModel converts the extracted table name to a Rails-style model
// name: singularized and camel-cased ("user_profiles" -> "UserProfile").
// Falls back to the raw identifier if the transform yields nothing, and
// to "Unknown" when no table can be extracted at all.
func GuessModel(query string) string {
	table := TableName(query)
	if table == "" {
		return "Unknown"
	}
	model := camelize(inflection.Singular(strings.ToLower(table)))
	if model == "" {
		return table
	}
	return model
}

func camelize(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// Truncate shortens query text to at most limit bytes, appending "..."
// when anything was cut. The input is never modified; a 600-char query
// truncated at 500 comes back as exactly 503 chars.
func Truncate(query string, limit int) string {
	if limit <= 0 || len(query) <= limit {
		return query
	}
	return query[:limit] + "..."
}

// Operation classifies a statement by its leading keyword. Used for
// labeling only, never for filtering decisions beyond the SELECT gate.
func Operation(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return "other"
	}
	switch fields[0] {
	case "select", "insert", "update", "delete", "begin", "commit", "rollback", "explain", "with":
		return fields[0]
	}
	return "other"
}
