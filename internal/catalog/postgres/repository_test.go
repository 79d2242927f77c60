package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/sqlpilot/internal/catalog"
)

func TestEnsureTenantDefaultsNameAndStatus(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
RETURNING name, status, created_at`)).
		WithArgs("tenant-1", "tenant-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"name", "status", "created_at"}).AddRow("tenant-1", "active", now))

	tenant, err := repo.EnsureTenant(context.Background(), catalog.CreateTenantInput{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("EnsureTenant() error = %v", err)
	}
	if tenant.TenantID != "tenant-1" || tenant.Status != "active" {
		t.Fatalf("tenant = %+v", tenant)
	}
	if !tenant.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", tenant.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestGetTenantReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTenant(context.Background(), "missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, catalog.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestCreateTable(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO dataset_table (tenant_id, dataset_name, table_name, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, dataset_name, table_name)
DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), dataset_table.description)
RETURNING table_id, description, created_at`)).
		WithArgs("tenant-1", "ss_the_met", "objects", "museum objects").
		WillReturnRows(sqlmock.NewRows([]string{"table_id", "description", "created_at"}).AddRow(int64(11), "museum objects", now))

	table, err := repo.CreateTable(context.Background(), catalog.CreateTableInput{
		TenantID:    "tenant-1",
		Dataset:     "ss_the_met",
		Name:        "objects",
		Description: "museum objects",
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if table.TableID != 11 {
		t.Fatalf("TableID = %d", table.TableID)
	}
	if table.QualifiedName() != "ss_the_met.objects" {
		t.Fatalf("QualifiedName() = %q", table.QualifiedName())
	}
	assertSQLMock(t, mock)
}

func TestGetTableReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_id, tenant_id, dataset_name, table_name, description, created_at
FROM dataset_table
WHERE tenant_id = $1 AND dataset_name = $2 AND table_name = $3`)).
		WithArgs("tenant-1", "ds", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTable(context.Background(), "tenant-1", "ds", "nope")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, catalog.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListTables(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_id, tenant_id, dataset_name, table_name, description, created_at
FROM dataset_table
WHERE tenant_id = $1
ORDER BY dataset_name ASC, table_name ASC`)).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"table_id", "tenant_id", "dataset_name", "table_name", "description", "created_at"}).
			AddRow(int64(1), "tenant-1", "my-dataset", "events", "", now).
			AddRow(int64(2), "tenant-1", "ss_the_met", "objects", "museum objects", now))

	tables, err := repo.ListTables(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %d", len(tables))
	}
	if tables[0].QualifiedName() != "my-dataset.events" {
		t.Fatalf("first table = %q", tables[0].QualifiedName())
	}
	assertSQLMock(t, mock)
}

func TestDeleteTable(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM dataset_table
WHERE tenant_id = $1 AND dataset_name = $2 AND table_name = $3`)).
		WithArgs("tenant-1", "ds", "events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteTable(context.Background(), "tenant-1", "ds", "events")
	if err != nil {
		t.Fatalf("DeleteTable() error = %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}
	assertSQLMock(t, mock)
}

func TestWithTxRegistersTableAndFile(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO dataset_table`)).
		WithArgs("tenant-1", "ds", "events", "").
		WillReturnRows(sqlmock.NewRows([]string{"table_id", "description", "created_at"}).AddRow(int64(5), "", now))
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO data_file (tenant_id, table_id, load_id, path, record_count, file_size_bytes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING file_id, created_at`)).
		WithArgs("tenant-1", int64(5), "load-1", "tenant-1/ds/events/load=load-1/part-00000.parquet", int64(3), int64(512)).
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "created_at"}).AddRow(int64(9), now))
	mock.ExpectCommit()

	var file catalog.DataFile
	err := repo.WithTx(context.Background(), func(tx *Repository) error {
		table, err := tx.CreateTable(context.Background(), catalog.CreateTableInput{TenantID: "tenant-1", Dataset: "ds", Name: "events"})
		if err != nil {
			return err
		}
		file, err = tx.RegisterDataFile(context.Background(), catalog.RegisterDataFileInput{
			TenantID:      "tenant-1",
			TableID:       table.TableID,
			LoadID:        "load-1",
			Path:          "tenant-1/ds/events/load=load-1/part-00000.parquet",
			RecordCount:   3,
			FileSizeBytes: 512,
		})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if file.FileID != 9 {
		t.Fatalf("FileID = %d", file.FileID)
	}
	assertSQLMock(t, mock)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err := repo.WithTx(context.Background(), func(*Repository) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx() error = %v, want %v", err, wantErr)
	}
	assertSQLMock(t, mock)
}

func TestListTableFiles(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT file_id, tenant_id, table_id, load_id, path, record_count, file_size_bytes, created_at
FROM data_file
WHERE tenant_id = $1 AND table_id = $2
ORDER BY file_id ASC`)).
		WithArgs("tenant-1", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "tenant_id", "table_id", "load_id", "path", "record_count", "file_size_bytes", "created_at"}).
			AddRow(int64(1), "tenant-1", int64(5), "l1", "tenant-1/ds/events/load=l1/part-00000.parquet", int64(10), int64(100), now).
			AddRow(int64(2), "tenant-1", int64(5), "l2", "tenant-1/ds/events/load=l2/part-00000.parquet", int64(20), int64(200), now))

	files, err := repo.ListTableFiles(context.Background(), "tenant-1", 5)
	if err != nil {
		t.Fatalf("ListTableFiles() error = %v", err)
	}
	if len(files) != 2 || files[1].LoadID != "l2" || files[1].FileSizeBytes != 200 {
		t.Fatalf("files = %#v", files)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
