package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/refine"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

var ErrEmptyQuestion = errors.New("question is required")

type Request struct {
	TenantID string
	Question string
	History  []llm.Message
	// Emit receives progress events; nil discards them.
	Emit func(stream.Event)
}

type Result struct {
	SQL            string   `json:"sql"`
	Table          string   `json:"table"`
	GeneratedSQL   string   `json:"generated_sql"`
	UsedFallback   bool     `json:"used_fallback"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Attempts       int      `json:"attempts"`
	Warnings       []string `json:"warnings"`
	TableList      string   `json:"-"`
	Schema         string   `json:"-"`
}

// Translator runs table selection, schema lookup, generation and validation.
// It never executes the query.
type Translator struct {
	Steps  *Steps
	Engine query.Engine
	Loop   *refine.Loop
	Logger *slog.Logger
}

func NewTranslator(steps *Steps, engine query.Engine, loop *refine.Loop, logger *slog.Logger) *Translator {
	return &Translator{Steps: steps, Engine: engine, Loop: loop, Logger: logger}
}

func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	emit := req.Emit
	if emit == nil {
		emit = func(stream.Event) {}
	}

	tables, err := t.Engine.ListTables(ctx, req.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("list tables: %w", err)
	}
	tableList := FormatTableList(tables)
	emit(stream.ToolResponse(stream.ToolListTables, tableList))

	table, err := t.Steps.SelectTable(ctx, question, tableList, req.History)
	if err != nil {
		return Result{}, err
	}
	emit(stream.Info("Selecting table: " + table))

	schema, err := query.Schema(ctx, t.Engine, req.TenantID, table)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		t.logger().WarnContext(ctx, "schema lookup failed", slog.String("table", table), slog.Any("error", err))
		schema = fmt.Sprintf("Error getting schema for table %s: %v", table, err)
	}
	emit(stream.ToolResponse(stream.ToolSchema, schema))

	generated, err := t.Steps.GenerateQuery(ctx, question, tableList, schema, table, req.History)
	if err != nil {
		return Result{}, err
	}

	emit(stream.Info("Validating SQL query..."))
	pipeline := refine.NewPipeline(t.Loop, refine.DefaultCategories(query.DryRunnerFor(t.Engine, req.TenantID)))
	validated, err := pipeline.Run(ctx, refine.PipelineRequest{
		Query:  generated,
		Schema: schema,
		Table:  table,
		Notify: func(notice refine.Notice) {
			if notice.Level == refine.NoticeError {
				emit(stream.Error(notice.Message))
				return
			}
			emit(stream.Info(notice.Message))
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("validate query: %w", err)
	}

	warnings := validated.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return Result{
		SQL:            validated.Query,
		Table:          table,
		GeneratedSQL:   generated,
		UsedFallback:   validated.UsedFallback,
		FallbackReason: validated.FallbackReason,
		Attempts:       validated.Repairs,
		Warnings:       warnings,
		TableList:      tableList,
		Schema:         schema,
	}, nil
}

func (t *Translator) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
