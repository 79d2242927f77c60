package refine

import (
	"context"
	"fmt"

	"github.com/duckmesh/sqlpilot/internal/observability"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
)

// Category is one repairable validator group. Each category gets its own
// refinement call and its own attempt budget.
type Category struct {
	Name string
	// Label prefixes the diagnostic in notices, e.g. "SQL syntax error".
	Label      string
	Validators func(schema string) []Validator
}

// DefaultCategories returns syntax, schema compatibility, complexity and the
// engine dry-run, in evaluation order.
func DefaultCategories(dryRun sqlcheck.DryRunner) []Category {
	return []Category{
		{
			Name:  sqlcheck.NameSyntax,
			Label: "SQL syntax error",
			Validators: func(string) []Validator {
				return []Validator{{Name: sqlcheck.NameSyntax, Check: sqlcheck.Pure(sqlcheck.Syntax)}}
			},
		},
		{
			Name:  sqlcheck.NameSchema,
			Label: "Schema compatibility error",
			Validators: func(schema string) []Validator {
				return []Validator{{Name: sqlcheck.NameSchema, Check: sqlcheck.Pure(func(query string) sqlcheck.Outcome {
					return sqlcheck.SchemaCompatibility(query, schema)
				})}}
			},
		},
		{
			Name:  sqlcheck.NameComplexity,
			Label: "Query complexity error",
			Validators: func(string) []Validator {
				return []Validator{{Name: sqlcheck.NameComplexity, Check: sqlcheck.Pure(sqlcheck.Complexity)}}
			},
		},
		{
			Name:  sqlcheck.NameDryRun,
			Label: "Dry-run validation error",
			Validators: func(string) []Validator {
				return []Validator{{Name: sqlcheck.NameDryRun, Check: sqlcheck.DryRun(dryRun)}}
			},
		},
	}
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a human-readable progress message emitted while validating.
type Notice struct {
	Level   NoticeLevel
	Message string
}

type PipelineRequest struct {
	Query  string
	Schema string
	Table  string
	Notify func(Notice)
}

type PipelineResult struct {
	Query          string
	Outcome        sqlcheck.Outcome
	UsedFallback   bool
	FallbackReason string
	// FallbackCategory names the category that gave up, or read_only.
	FallbackCategory string
	Repairs          int
	Warnings         []string
	Trail            []Attempt
}

// Pipeline runs the read-only policy gate and then one refinement call per
// category, feeding each category the query the previous one produced.
type Pipeline struct {
	Loop       *Loop
	Categories []Category
}

func NewPipeline(loop *Loop, categories []Category) *Pipeline {
	return &Pipeline{Loop: loop, Categories: categories}
}

func (p *Pipeline) Run(ctx context.Context, req PipelineRequest) (PipelineResult, error) {
	if p.Loop == nil {
		return PipelineResult{}, fmt.Errorf("refinement loop is required")
	}
	if req.Table == "" {
		return PipelineResult{}, fmt.Errorf("table is required")
	}
	notify := req.Notify
	if notify == nil {
		notify = func(Notice) {}
	}

	result := PipelineResult{Query: Normalize(req.Query, p.Loop.RowCap)}
	if p.policyViolation(&result, req, notify) {
		return result, nil
	}

	for _, category := range p.Categories {
		if err := ctx.Err(); err != nil {
			return PipelineResult{}, err
		}
		refined, err := p.Loop.Refine(ctx, Request{
			Category:   category.Name,
			Query:      result.Query,
			Schema:     req.Schema,
			Table:      req.Table,
			Validators: category.Validators(req.Schema),
		})
		if err != nil {
			return PipelineResult{}, fmt.Errorf("refine %s: %w", category.Name, err)
		}
		result.Repairs += refined.Repairs
		result.Trail = append(result.Trail, refined.Trail...)
		result.Outcome = refined.Outcome

		if refined.Repairs > 0 || refined.UsedFallback {
			if first := firstFailure(refined.Trail); first != "" {
				notify(Notice{Level: NoticeError, Message: fmt.Sprintf("%s: %s. Refining query...", category.Label, first)})
			}
		}
		if refined.UsedFallback {
			if refined.RepairErr != nil {
				notify(Notice{Level: NoticeError, Message: fmt.Sprintf("Query repair failed: %v", refined.RepairErr)})
			}
			notify(Notice{Level: NoticeError, Message: "Could not refine query. Using fallback query."})
			result.Query = refined.Query
			result.UsedFallback = true
			result.FallbackCategory = category.Name
			result.FallbackReason = "exhausted"
			if refined.RepairErr != nil {
				result.FallbackReason = "repair_failed"
			}
			result.Warnings = nil
			return result, nil
		}
		if refined.Repairs > 0 {
			notify(Notice{Level: NoticeInfo, Message: "Query refined successfully."})
		}
		for _, warning := range refined.Warnings {
			notify(Notice{Level: NoticeInfo, Message: warning})
			result.Warnings = appendUnique(result.Warnings, warning)
		}
		result.Query = refined.Query

		// A repair can introduce write keywords; the policy gate runs again.
		if refined.Repairs > 0 && p.policyViolation(&result, req, notify) {
			return result, nil
		}
	}
	return result, nil
}

func (p *Pipeline) policyViolation(result *PipelineResult, req PipelineRequest, notify func(Notice)) bool {
	outcome := sqlcheck.ReadOnly(result.Query)
	observability.ObserveValidatorOutcome(sqlcheck.NameReadOnly, outcome.Valid, outcome.Diagnostic)
	if outcome.Valid {
		return false
	}
	notify(Notice{Level: NoticeError, Message: "Error: Only SELECT queries are allowed. Using fallback query."})
	observability.IncrementFallback("policy")
	result.Query = Fallback(req.Table, p.Loop.FallbackLimit)
	result.Outcome = outcome
	result.UsedFallback = true
	result.FallbackCategory = sqlcheck.NameReadOnly
	result.FallbackReason = "policy"
	result.Warnings = nil
	return true
}

func firstFailure(trail []Attempt) string {
	for _, attempt := range trail {
		if !attempt.Outcome.Valid {
			return attempt.Outcome.Diagnostic
		}
	}
	return ""
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
