package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duckmesh/sqlpilot/internal/catalog"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
	q  dbTX
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) EnsureTenant(ctx context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}
	name := in.Name
	if name == "" {
		name = in.TenantID
	}

	query := `
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
RETURNING name, status, created_at`

	tenant := catalog.Tenant{TenantID: in.TenantID}
	if err := r.q.QueryRowContext(ctx, query, in.TenantID, name, status).Scan(&tenant.Name, &tenant.Status, &tenant.CreatedAt); err != nil {
		return catalog.Tenant{}, fmt.Errorf("ensure tenant: %w", err)
	}
	return tenant, nil
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (catalog.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`

	var tenant catalog.Tenant
	if err := r.q.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Tenant{}, catalog.ErrNotFound
		}
		return catalog.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

// CreateTable registers dataset.table for a tenant, returning the existing
// definition when it is already registered.
func (r *Repository) CreateTable(ctx context.Context, in catalog.CreateTableInput) (catalog.TableDef, error) {
	query := `
INSERT INTO dataset_table (tenant_id, dataset_name, table_name, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, dataset_name, table_name)
DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), dataset_table.description)
RETURNING table_id, description, created_at`

	table := catalog.TableDef{
		TenantID: in.TenantID,
		Dataset:  in.Dataset,
		Name:     in.Name,
	}
	if err := r.q.QueryRowContext(ctx, query, in.TenantID, in.Dataset, in.Name, in.Description).Scan(
		&table.TableID,
		&table.Description,
		&table.CreatedAt,
	); err != nil {
		return catalog.TableDef{}, fmt.Errorf("create table: %w", err)
	}
	return table, nil
}

func (r *Repository) GetTable(ctx context.Context, tenantID, dataset, table string) (catalog.TableDef, error) {
	query := `
SELECT table_id, tenant_id, dataset_name, table_name, description, created_at
FROM dataset_table
WHERE tenant_id = $1 AND dataset_name = $2 AND table_name = $3`

	def, err := scanTable(r.q.QueryRowContext(ctx, query, tenantID, dataset, table))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.TableDef{}, catalog.ErrNotFound
		}
		return catalog.TableDef{}, fmt.Errorf("get table: %w", err)
	}
	return def, nil
}

func (r *Repository) ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT table_id, tenant_id, dataset_name, table_name, description, created_at
FROM dataset_table
WHERE tenant_id = $1
ORDER BY dataset_name ASC, table_name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableDef, 0)
	for rows.Next() {
		table, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

// DeleteTable removes the table definition; data_file rows cascade.
func (r *Repository) DeleteTable(ctx context.Context, tenantID, dataset, table string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
DELETE FROM dataset_table
WHERE tenant_id = $1 AND dataset_name = $2 AND table_name = $3`, tenantID, dataset, table)
	if err != nil {
		return false, fmt.Errorf("delete table: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete table rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) RegisterDataFile(ctx context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	query := `
INSERT INTO data_file (tenant_id, table_id, load_id, path, record_count, file_size_bytes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING file_id, created_at`

	file := catalog.DataFile{
		TenantID:      in.TenantID,
		TableID:       in.TableID,
		LoadID:        in.LoadID,
		Path:          in.Path,
		RecordCount:   in.RecordCount,
		FileSizeBytes: in.FileSizeBytes,
	}
	if err := r.q.QueryRowContext(ctx, query,
		in.TenantID,
		in.TableID,
		in.LoadID,
		in.Path,
		in.RecordCount,
		in.FileSizeBytes,
	).Scan(&file.FileID, &file.CreatedAt); err != nil {
		return catalog.DataFile{}, fmt.Errorf("register data file: %w", err)
	}
	return file, nil
}

func (r *Repository) ListTableFiles(ctx context.Context, tenantID string, tableID int64) ([]catalog.DataFile, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT file_id, tenant_id, table_id, load_id, path, record_count, file_size_bytes, created_at
FROM data_file
WHERE tenant_id = $1 AND table_id = $2
ORDER BY file_id ASC`, tenantID, tableID)
	if err != nil {
		return nil, fmt.Errorf("list table files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]catalog.DataFile, 0)
	for rows.Next() {
		var file catalog.DataFile
		if err := rows.Scan(
			&file.FileID,
			&file.TenantID,
			&file.TableID,
			&file.LoadID,
			&file.Path,
			&file.RecordCount,
			&file.FileSizeBytes,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan data file row: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data file rows: %w", err)
	}
	return files, nil
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Repository{db: r.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTable(row rowScanner) (catalog.TableDef, error) {
	var table catalog.TableDef
	var createdAt time.Time
	if err := row.Scan(
		&table.TableID,
		&table.TenantID,
		&table.Dataset,
		&table.Name,
		&table.Description,
		&createdAt,
	); err != nil {
		return catalog.TableDef{}, err
	}
	table.CreatedAt = createdAt
	return table, nil
}
