package refine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/sqlpilot/internal/observability"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
)

const DefaultMaxAttempts = 3

// Validator is one named check run by a refinement call.
type Validator struct {
	Name  string
	Check sqlcheck.Check
}

// Attempt records one evaluation inside a refinement call.
type Attempt struct {
	Category  string           `json:"category"`
	Validator string           `json:"validator"`
	Index     int              `json:"attempt_index"`
	Query     string           `json:"query"`
	Outcome   sqlcheck.Outcome `json:"outcome"`
}

// Result is the terminal state of a refinement call. Query is never empty:
// it is either a query that passed every validator or the fallback.
type Result struct {
	Query        string
	Outcome      sqlcheck.Outcome
	UsedFallback bool
	// Repairs is the number of repair requests made, failed ones included.
	Repairs  int
	Warnings []string
	Trail    []Attempt
	// RepairErr holds the error of the last repair request when it failed.
	RepairErr error
}

type Request struct {
	Category   string
	Query      string
	Schema     string
	Table      string
	Validators []Validator
}

// Loop runs one refinement call: normalize, precheck, validate, repair,
// bounded by MaxAttempts repair requests.
type Loop struct {
	Repairer      Repairer
	Prechecks     []sqlcheck.Precheck
	// MaxAttempts bounds repair requests per call. Zero never repairs and a
	// negative value uses DefaultMaxAttempts.
	MaxAttempts   int
	RowCap        int
	FallbackLimit int
	Logger        *slog.Logger
}

func NewLoop(repairer Repairer, maxAttempts, rowCap, fallbackLimit int, logger *slog.Logger) *Loop {
	return &Loop{
		Repairer:      repairer,
		Prechecks:     sqlcheck.DefaultPrechecks(),
		MaxAttempts:   maxAttempts,
		RowCap:        rowCap,
		FallbackLimit: fallbackLimit,
		Logger:        logger,
	}
}

// Refine returns an error only when the context ends or a validator could not
// run. A failed repair request consumes an attempt and leaves the query
// unchanged; exhausting the budget yields the fallback query.
func (l *Loop) Refine(ctx context.Context, req Request) (Result, error) {
	if l.Repairer == nil {
		return Result{}, fmt.Errorf("repairer is required")
	}
	if req.Table == "" {
		return Result{}, fmt.Errorf("table is required")
	}
	maxAttempts := l.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}

	result := Result{Query: Normalize(req.Query, l.RowCap)}
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		name, outcome, err := l.evaluate(ctx, req, &result)
		if err != nil {
			return Result{}, err
		}
		if outcome.Valid {
			result.Outcome = outcome
			observability.ObserveRefinementAttempts(req.Category, result.Repairs)
			return result, nil
		}

		if result.Repairs >= maxAttempts {
			reason := "exhausted"
			if result.RepairErr != nil {
				reason = "repair_failed"
			}
			l.fallback(req, &result, outcome, reason)
			return result, nil
		}

		repaired, err := l.Repairer.Repair(ctx, result.Query, outcome.Diagnostic, req.Schema)
		observability.ObserveRepairCall(req.Category, err)
		result.Repairs++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			l.logger().WarnContext(ctx, "repair request failed",
				slog.String("category", req.Category),
				slog.String("validator", name),
				slog.Int("attempt", result.Repairs),
				slog.Any("error", err),
			)
			result.RepairErr = err
			continue
		}
		result.RepairErr = nil
		result.Query = Normalize(repaired, l.RowCap)
	}
}

// evaluate runs the prechecks and then the validators against the current
// query, returning the first failure or the passing outcome.
func (l *Loop) evaluate(ctx context.Context, req Request, result *Result) (string, sqlcheck.Outcome, error) {
	for _, precheck := range l.Prechecks {
		outcome := precheck.Check(result.Query)
		l.record(ctx, req, result, precheck.Name, outcome)
		if !outcome.Valid {
			return precheck.Name, outcome, nil
		}
	}

	var warnings []string
	for _, validator := range req.Validators {
		outcome, err := validator.Check(ctx, result.Query)
		if err != nil {
			return validator.Name, sqlcheck.Outcome{}, fmt.Errorf("%s check: %w", validator.Name, err)
		}
		l.record(ctx, req, result, validator.Name, outcome)
		if !outcome.Valid {
			return validator.Name, outcome, nil
		}
		if outcome.Warning() {
			warnings = append(warnings, outcome.Diagnostic)
		}
	}
	result.Warnings = warnings
	passed := sqlcheck.Pass()
	if len(warnings) > 0 {
		passed = sqlcheck.Warn(warnings[len(warnings)-1])
	}
	return "", passed, nil
}

func (l *Loop) record(ctx context.Context, req Request, result *Result, validator string, outcome sqlcheck.Outcome) {
	attempt := Attempt{
		Category:  req.Category,
		Validator: validator,
		Index:     result.Repairs,
		Query:     result.Query,
		Outcome:   outcome,
	}
	result.Trail = append(result.Trail, attempt)
	observability.ObserveValidatorOutcome(validator, outcome.Valid, outcome.Diagnostic)
	l.logger().DebugContext(ctx, "refinement attempt",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("category", attempt.Category),
		slog.String("validator", attempt.Validator),
		slog.Int("attempt", attempt.Index),
		slog.Bool("valid", outcome.Valid),
		slog.String("diagnostic", outcome.Diagnostic),
	)
}

func (l *Loop) fallback(req Request, result *Result, last sqlcheck.Outcome, reason string) {
	result.Query = Fallback(req.Table, l.FallbackLimit)
	result.Outcome = last
	result.UsedFallback = true
	result.Warnings = nil
	observability.IncrementFallback(reason)
	observability.ObserveRefinementAttempts(req.Category, result.Repairs)
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
