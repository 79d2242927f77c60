package sqlcheck

import (
	"fmt"
	"strings"
)

var writeKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE"}

// ReadOnly rejects any query whose upper-cased text contains a write keyword.
// Matching is by substring, so keywords inside literals, comments or longer
// identifiers (created_at) are rejected too.
func ReadOnly(query string) Outcome {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, keyword := range writeKeywords {
		if strings.Contains(upper, keyword) {
			return Fail(fmt.Sprintf("Only SELECT queries are allowed: query contains %s", keyword))
		}
	}
	return Pass()
}
