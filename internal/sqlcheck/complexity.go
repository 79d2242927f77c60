package sqlcheck

import (
	"fmt"
	"strings"
)

const (
	MaxJoins      = 3
	MaxSubqueries = 2
)

// Complexity counts "join" and "(select" occurrences case-insensitively.
func Complexity(query string) Outcome {
	lower := strings.ToLower(query)
	if joins := strings.Count(lower, "join"); joins > MaxJoins {
		return Fail(fmt.Sprintf("Query has too many joins (%d). Maximum allowed is %d.", joins, MaxJoins))
	}
	if subqueries := strings.Count(lower, "(select"); subqueries > MaxSubqueries {
		return Fail(fmt.Sprintf("Query has too many nested subqueries (%d). Maximum allowed is %d.", subqueries, MaxSubqueries))
	}
	return Pass()
}
