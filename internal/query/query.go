package query

import (
	"context"
	"errors"
	"time"

	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
)

var ErrTableNotFound = errors.New("table not found")

type Request struct {
	TenantID string
	SQL      string
	RowLimit int
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

// Records returns the rows keyed by column name, in row order.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// Engine is the analytic store the assistant queries. Table names are
// dataset.table.
type Engine interface {
	ListTables(ctx context.Context, tenantID string) ([]string, error)
	DescribeTable(ctx context.Context, tenantID, table string) ([]sqlcheck.Column, error)
	// DryRun plans the query without reading rows. Planner rejections are
	// returned as *sqlcheck.RejectedError.
	DryRun(ctx context.Context, tenantID, sql string) error
	Execute(ctx context.Context, request Request) (Result, error)
}

// DryRunnerFor binds an engine to one tenant for use as a validator.
func DryRunnerFor(engine Engine, tenantID string) sqlcheck.DryRunner {
	return sqlcheck.DryRunFunc(func(ctx context.Context, sql string) error {
		return engine.DryRun(ctx, tenantID, sql)
	})
}

// Schema fetches a table description in the formatted shape the validators
// parse.
func Schema(ctx context.Context, engine Engine, tenantID, table string) (string, error) {
	columns, err := engine.DescribeTable(ctx, tenantID, table)
	if err != nil {
		return "", err
	}
	return sqlcheck.FormatSchema(table, columns), nil
}
