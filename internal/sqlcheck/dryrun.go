package sqlcheck

import (
	"context"
	"errors"
)

// DryRunner plans a query without scanning data.
type DryRunner interface {
	DryRun(ctx context.Context, query string) error
}

// RejectedError is returned by a DryRunner when the engine refused the query
// itself, as opposed to failing to reach it.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// DryRun turns an engine rejection into a failed outcome carrying the
// engine's message; other errors propagate.
func DryRun(runner DryRunner) Check {
	return func(ctx context.Context, query string) (Outcome, error) {
		err := runner.DryRun(ctx, query)
		if err == nil {
			return Pass(), nil
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return Fail(rejected.Message), nil
		}
		return Outcome{}, err
	}
}

type DryRunFunc func(ctx context.Context, query string) error

func (f DryRunFunc) DryRun(ctx context.Context, query string) error {
	return f(ctx, query)
}
