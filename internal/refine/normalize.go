package refine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/llm"
)

const DefaultRowCap = 1000

var simpleIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Normalize strips code fences and trailing semicolons and appends a row cap
// when the text does not mention limit anywhere. Normalize(Normalize(q)) ==
// Normalize(q).
func Normalize(query string, rowCap int) string {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	normalized := stripTrailingSemicolons(llm.StripCodeFence(query))
	if normalized == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(normalized), "limit") {
		return normalized
	}
	separator := " "
	if lines := strings.Split(normalized, "\n"); strings.Contains(lines[len(lines)-1], "--") {
		separator = "\n"
	}
	return fmt.Sprintf("%s%sLIMIT %d", normalized, separator, rowCap)
}

// Fallback is the fixed query substituted when refinement gives up.
func Fallback(table string, limit int) string {
	if limit <= 0 {
		limit = 10
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteTableName(table), limit)
}

// quoteTableName double-quotes the parts of dataset.table that are not plain
// identifiers. Names that already carry quotes are left alone.
func quoteTableName(table string) string {
	table = strings.TrimSpace(table)
	if strings.ContainsAny(table, "\"`") {
		return table
	}
	parts := strings.Split(table, ".")
	for i, part := range parts {
		if !simpleIdentPattern.MatchString(part) {
			parts[i] = `"` + part + `"`
		}
	}
	return strings.Join(parts, ".")
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
