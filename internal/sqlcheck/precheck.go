package sqlcheck

import (
	"regexp"
	"strings"
)

var (
	unquotedHyphenTablePattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z0-9_]+(?:-[a-zA-Z0-9_]+)+)`)
	aggregateCallPattern       = regexp.MustCompile(`(?i)\b(?:sum|avg|min|max)\s*\([^)]*\)`)
)

// TableNames fails when a hyphenated identifier follows FROM or JOIN without
// quoting.
func TableNames(query string) Outcome {
	matches := unquotedHyphenTablePattern.FindAllString(query, -1)
	if len(matches) > 0 {
		return Fail("Table names containing hyphens must be wrapped in backticks or double quotes: " + strings.Join(matches, ", "))
	}
	return Pass()
}

// NullHandling fails when a sum/avg/min/max call does not coalesce its
// argument.
func NullHandling(query string) Outcome {
	var unhandled []string
	for _, call := range aggregateCallPattern.FindAllString(query, -1) {
		lower := strings.ToLower(call)
		if strings.Contains(lower, "coalesce") || strings.Contains(lower, "ifnull") {
			continue
		}
		unhandled = append(unhandled, call)
	}
	if len(unhandled) > 0 {
		return Fail("Numeric operations should handle null values using COALESCE: " + strings.Join(unhandled, ", "))
	}
	return Pass()
}

// Precheck is a deterministic gate run after every normalization pass.
type Precheck struct {
	Name  string
	Check func(query string) Outcome
}

func DefaultPrechecks() []Precheck {
	return []Precheck{
		{Name: NameTableNames, Check: TableNames},
		{Name: NameNullHandling, Check: NullHandling},
	}
}
