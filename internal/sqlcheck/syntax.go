package sqlcheck

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Syntax parses the query with the PostgreSQL grammar, which covers the
// DuckDB dialect the engine speaks for ordinary SELECTs.
func Syntax(query string) Outcome {
	if strings.TrimSpace(query) == "" {
		return Fail("Query is empty")
	}
	tree, err := pg_query.Parse(query)
	if err != nil {
		return Fail(err.Error())
	}
	switch len(tree.GetStmts()) {
	case 0:
		return Fail("Query contains no statement")
	case 1:
		return Pass()
	default:
		return Fail(fmt.Sprintf("Query contains %d statements. Only a single statement is allowed.", len(tree.GetStmts())))
	}
}
