package migrations

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusReportsPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := &Runner{fsys: fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
	}}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS sqlpilot_schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM sqlpilot_schema_migrations ORDER BY version ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	status, err := runner.Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status) != 2 || !status[0].Applied || status[1].Applied {
		t.Fatalf("status = %+v", status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
