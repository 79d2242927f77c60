// Package sqlcheck holds the validators a generated query must pass before it
// is executed. Validators report invalid queries through Outcome; an error is
// returned only when the check itself could not run.
package sqlcheck

import "context"

// Validator names, used for metrics labels and audit logs.
const (
	NameReadOnly     = "read_only"
	NameSyntax       = "syntax"
	NameSchema       = "schema_compatibility"
	NameComplexity   = "complexity"
	NameDryRun       = "dry_run"
	NameTableNames   = "table_names"
	NameNullHandling = "null_handling"
)

// Outcome is the result of one validator. Diagnostic is always set when Valid
// is false; a valid outcome with a diagnostic is a warning.
type Outcome struct {
	Valid      bool   `json:"valid"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func Pass() Outcome {
	return Outcome{Valid: true}
}

func Fail(diagnostic string) Outcome {
	if diagnostic == "" {
		diagnostic = "Invalid query"
	}
	return Outcome{Valid: false, Diagnostic: diagnostic}
}

func Warn(diagnostic string) Outcome {
	return Outcome{Valid: true, Diagnostic: diagnostic}
}

// Warning reports whether the outcome passed but carries a non-fatal note.
func (o Outcome) Warning() bool {
	return o.Valid && o.Diagnostic != ""
}

// Check evaluates a query. Only checks that call out to another system (the
// dry-run) ever return an error.
type Check func(ctx context.Context, query string) (Outcome, error)

// Pure lifts a context-free validator into a Check.
func Pure(fn func(query string) Outcome) Check {
	return func(_ context.Context, query string) (Outcome, error) {
		return fn(query), nil
	}
}
