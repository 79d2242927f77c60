package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/sqlpilot/internal/catalog"
	"github.com/duckmesh/sqlpilot/internal/observability"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
	"github.com/duckmesh/sqlpilot/internal/storage"
)

const (
	defaultFileCacheTTL       = 30 * time.Minute
	defaultSchemaCacheTTL     = 5 * time.Minute
	defaultStagingConcurrency = 4
)

// Catalog is the part of the catalog the engine reads.
type Catalog interface {
	ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error)
	ListTableFiles(ctx context.Context, tenantID string, tableID int64) ([]catalog.DataFile, error)
}

type Options struct {
	// CacheDir holds staged parquet files. A temporary directory is created
	// and removed on Close when empty.
	CacheDir           string
	FileCacheTTL       time.Duration
	SchemaCacheTTL     time.Duration
	StagingConcurrency int
	// MaxResultRows caps every Execute regardless of the requested limit.
	MaxResultRows int
}

// Engine answers each request from a fresh in-memory DuckDB database with one
// view per referenced catalog table over locally staged parquet files.
type Engine struct {
	Catalog Catalog
	Store   storage.ObjectStore

	opts         Options
	cacheDir     string
	ownsCacheDir bool
	files        *ttlcache.Cache[string, string]
	schemas      *ttlcache.Cache[string, []sqlcheck.Column]
	stagingPool  pond.ResultPool[string]
}

var _ query.Engine = (*Engine)(nil)

func NewEngine(cat Catalog, store storage.ObjectStore, opts Options) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.FileCacheTTL <= 0 {
		opts.FileCacheTTL = defaultFileCacheTTL
	}
	if opts.SchemaCacheTTL <= 0 {
		opts.SchemaCacheTTL = defaultSchemaCacheTTL
	}
	if opts.StagingConcurrency <= 0 {
		opts.StagingConcurrency = defaultStagingConcurrency
	}

	cacheDir := opts.CacheDir
	ownsCacheDir := false
	if cacheDir == "" {
		dir, err := os.MkdirTemp("", "sqlpilot-engine-")
		if err != nil {
			return nil, fmt.Errorf("create engine cache dir: %w", err)
		}
		cacheDir = dir
		ownsCacheDir = true
	} else if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine cache dir %q: %w", cacheDir, err)
	}

	files := ttlcache.New(
		ttlcache.WithTTL[string, string](opts.FileCacheTTL),
	)
	files.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, string]) {
		_ = os.Remove(item.Value())
	})
	schemas := ttlcache.New(
		ttlcache.WithTTL[string, []sqlcheck.Column](opts.SchemaCacheTTL),
	)
	go files.Start()
	go schemas.Start()

	return &Engine{
		Catalog:      cat,
		Store:        store,
		opts:         opts,
		cacheDir:     cacheDir,
		ownsCacheDir: ownsCacheDir,
		files:        files,
		schemas:      schemas,
		stagingPool:  pond.NewResultPool[string](opts.StagingConcurrency),
	}, nil
}

// Close stops the caches and the staging pool and drops staged files.
func (e *Engine) Close() error {
	e.stagingPool.StopAndWait()
	e.schemas.Stop()
	e.files.Stop()
	e.files.DeleteAll()
	if e.ownsCacheDir {
		return os.RemoveAll(e.cacheDir)
	}
	return nil
}

func (e *Engine) ListTables(ctx context.Context, tenantID string) ([]string, error) {
	tables, err := e.Catalog.ListTables(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list catalog tables: %w", err)
	}
	names := make([]string, 0, len(tables))
	for _, table := range tables {
		names = append(names, table.QualifiedName())
	}
	sort.Strings(names)
	return names, nil
}

func (e *Engine) DescribeTable(ctx context.Context, tenantID, table string) ([]sqlcheck.Column, error) {
	cacheKey := tenantID + "/" + strings.ToLower(table)
	if item := e.schemas.Get(cacheKey); item != nil {
		return item.Value(), nil
	}

	def, err := e.lookupTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	staged, err := e.stageTables(ctx, tenantID, []catalog.TableDef{def})
	if err != nil {
		return nil, err
	}
	paths := staged.paths[def.QualifiedName()]
	if len(paths) == 0 {
		return nil, fmt.Errorf("table %s has no data files", def.QualifiedName())
	}

	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`DESCRIBE SELECT * FROM read_parquet(%s)`, quoteStringArray(paths)))
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", def.QualifiedName(), err)
	}
	defer func() { _ = rows.Close() }()

	result, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", def.QualifiedName(), err)
	}
	columns := make([]sqlcheck.Column, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		columns = append(columns, sqlcheck.Column{Name: fmt.Sprint(row[0]), Type: fmt.Sprint(row[1])})
	}
	e.schemas.Set(cacheKey, columns, ttlcache.DefaultTTL)
	return columns, nil
}

func (e *Engine) DryRun(ctx context.Context, tenantID, sqlText string) error {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return &sqlcheck.RejectedError{Message: "sql is required"}
	}
	db, _, err := e.prepare(ctx, tenantID, sqlText)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &sqlcheck.RejectedError{Message: err.Error()}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return &sqlcheck.RejectedError{Message: err.Error()}
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (result query.Result, err error) {
	start := time.Now()
	defer func() { observability.ObserveQueryExecution(time.Since(start), err) }()

	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	db, staged, err := e.prepare(ctx, request.TenantID, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

	if limit := e.rowLimit(request.RowLimit); limit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, limit)
	}
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result, err = collectRows(rows)
	if err != nil {
		return query.Result{}, err
	}
	result.ScannedFiles = staged.files
	result.ScannedBytes = staged.bytes
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) rowLimit(requested int) int {
	limit := requested
	if e.opts.MaxResultRows > 0 && (limit <= 0 || limit > e.opts.MaxResultRows) {
		limit = e.opts.MaxResultRows
	}
	return limit
}

// prepare stages every catalog table the SQL text mentions and returns a
// database with a view per table. File access is then restricted to the
// cache directory.
func (e *Engine) prepare(ctx context.Context, tenantID, sqlText string) (*sql.DB, stagedTables, error) {
	tables, err := e.Catalog.ListTables(ctx, tenantID)
	if err != nil {
		return nil, stagedTables{}, fmt.Errorf("list catalog tables: %w", err)
	}
	staged, err := e.stageTables(ctx, tenantID, referencedTables(tables, sqlText))
	if err != nil {
		return nil, stagedTables{}, err
	}

	db, err := openDatabase()
	if err != nil {
		return nil, stagedTables{}, err
	}
	for _, def := range staged.tables {
		paths := staged.paths[def.QualifiedName()]
		if len(paths) == 0 {
			continue
		}
		statements := []string{
			fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(def.Dataset)),
			fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet(%s)`, quoteIdent(def.Dataset), quoteIdent(def.Name), quoteStringArray(paths)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				return nil, stagedTables{}, fmt.Errorf("create view for table %q: %w", def.QualifiedName(), err)
			}
		}
	}
	lockdown := []string{
		fmt.Sprintf(`SET allowed_directories = [%s]`, quoteStringLiteral(e.cacheDir+string(os.PathSeparator))),
		`SET enable_external_access = false`,
		`SET lock_configuration = true`,
	}
	for _, statement := range lockdown {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, stagedTables{}, fmt.Errorf("restrict engine access: %w", err)
		}
	}
	return db, staged, nil
}

func (e *Engine) lookupTable(ctx context.Context, tenantID, table string) (catalog.TableDef, error) {
	dataset, name, ok := splitQualifiedName(table)
	if !ok {
		return catalog.TableDef{}, fmt.Errorf("%w: %q is not dataset.table", query.ErrTableNotFound, table)
	}
	tables, err := e.Catalog.ListTables(ctx, tenantID)
	if err != nil {
		return catalog.TableDef{}, fmt.Errorf("list catalog tables: %w", err)
	}
	for _, def := range tables {
		if strings.EqualFold(def.Dataset, dataset) && strings.EqualFold(def.Name, name) {
			return def, nil
		}
	}
	return catalog.TableDef{}, fmt.Errorf("%w: %s", query.ErrTableNotFound, table)
}

func openDatabase() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// Views and settings live on the connection's database; keep one.
	db.SetMaxOpenConns(1)
	return db, nil
}

func collectRows(rows *sql.Rows) (query.Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Result{Columns: columns, Rows: resultRows}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case duckdb.Decimal:
			normalized[i] = typed.Float64()
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// splitQualifiedName accepts dataset.table with optional double quotes or
// backticks around either part.
func splitQualifiedName(table string) (string, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(table), ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	dataset := strings.Trim(parts[0], "\"` ")
	name := strings.Trim(parts[1], "\"` ")
	if dataset == "" || name == "" {
		return "", "", false
	}
	return dataset, name, true
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteStringLiteral(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
