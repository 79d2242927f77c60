package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	tokenSplitPattern = regexp.MustCompile(`\s+|,|\(|\)|\.`)
	numericPattern    = regexp.MustCompile(`^\d+$`)
)

var allowedKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "by": {}, "having": {},
	"order": {}, "limit": {}, "offset": {}, "and": {}, "or": {}, "not": {},
	"as": {}, "join": {}, "on": {}, "inner": {}, "outer": {}, "left": {},
	"right": {}, "full": {}, "cross": {}, "union": {}, "all": {}, "distinct": {},
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {}, "*": {},
}

// SchemaCompatibility fails when the query does not mention the table named
// in the schema description. Tokens that are neither known columns, allowed
// keywords nor integers only produce a warning; aliases, literals and
// operators are reported there as well.
func SchemaCompatibility(query, schema string) Outcome {
	table, columns, ok := ParseSchema(schema)
	if !ok {
		return Fail("Could not extract table name from schema")
	}

	lower := strings.ToLower(query)
	if !strings.Contains(lower, strings.ToLower(table)) {
		return Fail(fmt.Sprintf("Query does not reference the table %s", table))
	}

	known := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		known[strings.ToLower(column.Name)] = struct{}{}
	}

	var unknown []string
	seen := map[string]struct{}{}
	for _, token := range tokenSplitPattern.Split(lower, -1) {
		if token == "" || numericPattern.MatchString(token) {
			continue
		}
		if _, ok := known[token]; ok {
			continue
		}
		if _, ok := allowedKeywords[token]; ok {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		unknown = append(unknown, token)
	}
	if len(unknown) > 0 {
		return Warn("Warning: Query may reference columns not in schema: " + strings.Join(unknown, ", "))
	}
	return Pass()
}
