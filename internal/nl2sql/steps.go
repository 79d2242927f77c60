// Package nl2sql turns a question into a validated SQL query and narrates the
// result, one language model call per step.
package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/observability"
)

var embeddedSelectPattern = regexp.MustCompile(`(?i)SELECT[\s\S]+?(?:;|$)`)

// Steps holds the individual model calls of the assistant flow.
type Steps struct {
	Client llm.Client
}

func NewSteps(client llm.Client) *Steps {
	return &Steps{Client: client}
}

// SelectTable asks which dataset.table answers the question. The answer is
// only trimmed; a malformed name surfaces later as a schema error.
func (s *Steps) SelectTable(ctx context.Context, question, tableList string, history []llm.Message) (string, error) {
	messages := withHistory(nil, history, llm.User(tableSelectionPrompt(question, tableList)))
	content, err := s.generate(ctx, "select_table", messages)
	if err != nil {
		return "", fmt.Errorf("select table: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// GenerateQuery returns a SELECT statement for the question, falling back to
// a row count of table when the model answers without one.
func (s *Steps) GenerateQuery(ctx context.Context, question, tableList, schema, table string, history []llm.Message) (string, error) {
	messages := withHistory(
		[]llm.Message{llm.System(queryGenInstruction)},
		history,
		llm.User(generationPrompt(question, tableList, schema)),
	)
	content, err := s.generate(ctx, "generate_query", messages)
	if err != nil {
		return "", fmt.Errorf("generate query: %w", err)
	}
	return ExtractQuery(content, table), nil
}

func (s *Steps) ExplainQuery(ctx context.Context, query string) (string, error) {
	content, err := s.generate(ctx, "explain_query", []llm.Message{
		llm.System(queryExplanationInstruction),
		llm.User(explanationPrompt(query)),
	})
	if err != nil {
		return "", fmt.Errorf("explain query: %w", err)
	}
	return content, nil
}

// Answer narrates the query result; the model is told to start with "Answer: ".
func (s *Steps) Answer(ctx context.Context, question, query, result string, history []llm.Message) (string, error) {
	messages := withHistory(
		[]llm.Message{llm.System(answerInstruction)},
		history,
		llm.User(answerPrompt(question, query, result)),
	)
	content, err := s.generate(ctx, "final_answer", messages)
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}
	return content, nil
}

// ExtractQuery keeps text that already starts with SELECT, otherwise pulls the
// first SELECT statement out of the prose.
func ExtractQuery(content, table string) string {
	trimmed := llm.StripCodeFence(content)
	if strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return trimmed
	}
	if match := embeddedSelectPattern.FindString(trimmed); match != "" {
		return strings.TrimSpace(match)
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
}

func (s *Steps) generate(ctx context.Context, purpose string, messages []llm.Message) (string, error) {
	if s.Client == nil {
		return "", fmt.Errorf("language model client is required")
	}
	start := time.Now()
	content, err := s.Client.Generate(ctx, messages)
	if err == nil && strings.TrimSpace(content) == "" {
		err = llm.ErrEmptyResponse
	}
	observability.ObserveLLMCall(purpose, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func withHistory(prefix, history []llm.Message, last llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(prefix)+len(history)+1)
	messages = append(messages, prefix...)
	messages = append(messages, history...)
	return append(messages, last)
}
