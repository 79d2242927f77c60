// Package assistant answers a question end to end: translate, execute,
// explain, narrate, remember.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/history"
	"github.com/duckmesh/sqlpilot/internal/nl2sql"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

const noResultsMessage = "Query executed successfully but returned no results."

type Request struct {
	TenantID  string
	SessionID string
	Question  string
}

type Result struct {
	SQL          string
	Table        string
	UsedFallback bool
	Explanation  string
	Answer       string
	// ExecutionError holds the engine's message when the validated query
	// still failed to run. The flow continues and narrates the failure.
	ExecutionError string
}

type Service struct {
	Translator *nl2sql.Translator
	Steps      *nl2sql.Steps
	Engine     query.Engine
	History    history.Store
	RowLimit   int
	Logger     *slog.Logger
}

// Ask streams progress through emit and returns once the answer is saved.
// When ctx ends, Ask stops before the next step and writes no history.
func (s *Service) Ask(ctx context.Context, req Request, emit func(stream.Event)) (Result, error) {
	if emit == nil {
		emit = func(stream.Event) {}
	}
	key := history.Key{Tenant: req.TenantID, Session: strings.TrimSpace(req.SessionID)}
	if key.Session == "" {
		key.Session = history.DefaultSession
	}

	emit(stream.Info("Starting SQL agent..."))
	messages, err := s.History.Load(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	translated, err := s.Translator.Translate(ctx, nl2sql.Request{
		TenantID: req.TenantID,
		Question: req.Question,
		History:  messages,
		Emit:     emit,
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{SQL: translated.SQL, Table: translated.Table, UsedFallback: translated.UsedFallback}
	emit(stream.QueryGenerated(translated.SQL))

	emit(stream.Info("Executing validated query..."))
	rowsText, err := s.execute(ctx, req.TenantID, translated.SQL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		result.ExecutionError = err.Error()
		rowsText = "Error executing query: " + err.Error()
		s.logger().WarnContext(ctx, "validated query failed to execute",
			slog.String("table", translated.Table),
			slog.Bool("used_fallback", translated.UsedFallback),
			slog.Any("error", err),
		)
		emit(stream.Error(rowsText))
	} else {
		emit(stream.ToolResponse(stream.ToolQuery, rowsText))
	}

	explanation, err := s.Steps.ExplainQuery(ctx, translated.SQL)
	if err != nil {
		return Result{}, err
	}
	result.Explanation = explanation
	emit(stream.QueryExplanation(explanation))

	answer, err := s.Steps.Answer(ctx, req.Question, translated.SQL, rowsText, messages)
	if err != nil {
		return Result{}, err
	}
	result.Answer = answer
	emit(stream.FinalAnswer(answer))

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := s.History.Append(ctx, key, req.Question, answer); err != nil {
		return Result{}, fmt.Errorf("save history: %w", err)
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, tenantID, sql string) (string, error) {
	result, err := s.Engine.Execute(ctx, query.Request{TenantID: tenantID, SQL: sql, RowLimit: s.RowLimit})
	if err != nil {
		return "", err
	}
	return FormatRows(result)
}

// FormatRows renders rows as an indented JSON array of objects.
func FormatRows(result query.Result) (string, error) {
	if len(result.Rows) == 0 {
		return noResultsMessage, nil
	}
	body, err := json.MarshalIndent(result.Records(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode query result: %w", err)
	}
	return string(body), nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
