package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository tracks which tables exist per tenant and which parquet files back them.
type Repository interface {
	HealthCheck(ctx context.Context) error
	EnsureTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	CreateTable(ctx context.Context, in CreateTableInput) (TableDef, error)
	GetTable(ctx context.Context, tenantID, dataset, table string) (TableDef, error)
	ListTables(ctx context.Context, tenantID string) ([]TableDef, error)
	DeleteTable(ctx context.Context, tenantID, dataset, table string) (bool, error)
	RegisterDataFile(ctx context.Context, in RegisterDataFileInput) (DataFile, error)
	ListTableFiles(ctx context.Context, tenantID string, tableID int64) ([]DataFile, error)
}

type Tenant struct {
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

type TableDef struct {
	TableID     int64
	TenantID    string
	Dataset     string
	Name        string
	Description string
	CreatedAt   time.Time
}

// QualifiedName is the dataset.table form used in prompts and SQL.
func (t TableDef) QualifiedName() string {
	return t.Dataset + "." + t.Name
}

type DataFile struct {
	FileID        int64
	TenantID      string
	TableID       int64
	LoadID        string
	Path          string
	RecordCount   int64
	FileSizeBytes int64
	CreatedAt     time.Time
}

type CreateTenantInput struct {
	TenantID string
	Name     string
	Status   string
}

type CreateTableInput struct {
	TenantID    string
	Dataset     string
	Name        string
	Description string
}

type RegisterDataFileInput struct {
	TenantID      string
	TableID       int64
	LoadID        string
	Path          string
	RecordCount   int64
	FileSizeBytes int64
}
