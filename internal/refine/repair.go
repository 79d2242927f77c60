package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/observability"
)

// Repairer asks for a corrected query given the failing diagnostic.
type Repairer interface {
	Repair(ctx context.Context, query, diagnostic, schema string) (string, error)
}

type RepairFunc func(ctx context.Context, query, diagnostic, schema string) (string, error)

func (f RepairFunc) Repair(ctx context.Context, query, diagnostic, schema string) (string, error) {
	return f(ctx, query, diagnostic, schema)
}

// LLMRepairer sends one repair prompt per call and never retries.
type LLMRepairer struct {
	Client  llm.Client
	Dialect string
}

func NewLLMRepairer(client llm.Client) *LLMRepairer {
	return &LLMRepairer{Client: client, Dialect: "DuckDB"}
}

func (r *LLMRepairer) Repair(ctx context.Context, query, diagnostic, schema string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("language model client is required")
	}
	messages := RepairMessages(r.Dialect, query, diagnostic, schema)

	start := time.Now()
	content, err := r.Client.Generate(ctx, messages)
	observability.ObserveLLMCall("repair", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("repair query: %w", err)
	}
	fixed := llm.StripCodeFence(content)
	if fixed == "" {
		return "", fmt.Errorf("repair query: %w", llm.ErrEmptyResponse)
	}
	return fixed, nil
}

// RepairMessages builds the system and user prompt for a repair request.
func RepairMessages(dialect, query, diagnostic, schema string) []llm.Message {
	if dialect == "" {
		dialect = "DuckDB"
	}
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = "Invalid query"
	}
	system := fmt.Sprintf("You are a SQL expert. Fix the provided %s SQL query based on the error message.", dialect)
	if schema != "" {
		system += " Use the provided schema information to ensure the query is valid."
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Fix this %s SQL query:\n```sql\n%s\n```\n\nError: %s\n", dialect, query, diagnostic)
	if schema != "" {
		fmt.Fprintf(&user, "\nSchema information:\n%s\n", schema)
	}
	user.WriteString("\nReturn ONLY the fixed SQL query without any explanations or markdown formatting.")

	return []llm.Message{llm.System(system), llm.User(user.String())}
}
