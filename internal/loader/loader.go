// Package loader turns CSV and JSON Lines files into catalog tables backed by
// parquet files in object storage.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/duckmesh/sqlpilot/internal/catalog"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
	"github.com/duckmesh/sqlpilot/internal/storage"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Catalog is the part of the catalog the loader writes to.
type Catalog interface {
	EnsureTenant(ctx context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error)
	CreateTable(ctx context.Context, in catalog.CreateTableInput) (catalog.TableDef, error)
	RegisterDataFile(ctx context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error)
}

type Request struct {
	TenantID    string
	Dataset     string
	Table       string
	Description string
	Format      Format
	Body        io.Reader
}

type Result struct {
	Table   catalog.TableDef
	File    catalog.DataFile
	Columns []sqlcheck.Column
}

type Loader struct {
	Catalog Catalog
	Store   storage.ObjectStore
	Logger  *slog.Logger
	NewID   func() string
}

func New(cat Catalog, store storage.ObjectStore, logger *slog.Logger) *Loader {
	return &Loader{Catalog: cat, Store: store, Logger: logger, NewID: uuid.NewString}
}

// Load appends one parquet file to the table, creating the tenant and table
// on first use.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	if err := validateNames(req); err != nil {
		return Result{}, err
	}
	if req.Body == nil {
		return Result{}, fmt.Errorf("input body is required")
	}

	dataset, err := Read(req.Format, req.Body)
	if err != nil {
		return Result{}, err
	}
	return l.write(ctx, req, dataset)
}

// LoadDataset is Load for rows that are already decoded. Body and Format
// are ignored.
func (l *Loader) LoadDataset(ctx context.Context, req Request, dataset Dataset) (Result, error) {
	if err := validateNames(req); err != nil {
		return Result{}, err
	}
	if _, err := normalizeColumns(dataset.Columns); err != nil {
		return Result{}, err
	}
	return l.write(ctx, req, dataset)
}

func validateNames(req Request) error {
	for field, value := range map[string]string{"dataset": req.Dataset, "table": req.Table} {
		if !namePattern.MatchString(value) {
			return fmt.Errorf("invalid %s name %q", field, value)
		}
	}
	return nil
}

func (l *Loader) write(ctx context.Context, req Request, dataset Dataset) (Result, error) {
	types := InferTypes(dataset)
	encoded, err := EncodeParquet(dataset, types)
	if err != nil {
		return Result{}, fmt.Errorf("encode parquet: %w", err)
	}

	newID := l.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	loadID := newID()
	objectPath, err := storage.BuildTableFilePath(req.TenantID, req.Dataset, req.Table, loadID, 0)
	if err != nil {
		return Result{}, fmt.Errorf("build table file path: %w", err)
	}

	if _, err := l.Catalog.EnsureTenant(ctx, catalog.CreateTenantInput{TenantID: req.TenantID}); err != nil {
		return Result{}, err
	}
	table, err := l.Catalog.CreateTable(ctx, catalog.CreateTableInput{
		TenantID:    req.TenantID,
		Dataset:     req.Dataset,
		Name:        req.Table,
		Description: req.Description,
	})
	if err != nil {
		return Result{}, err
	}

	putInfo, err := l.Store.Put(ctx, objectPath, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		return Result{}, fmt.Errorf("put parquet object: %w", err)
	}
	size := putInfo.Size
	if size <= 0 {
		size = int64(len(encoded.Data))
	}

	file, err := l.Catalog.RegisterDataFile(ctx, catalog.RegisterDataFileInput{
		TenantID:      req.TenantID,
		TableID:       table.TableID,
		LoadID:        loadID,
		Path:          objectPath,
		RecordCount:   encoded.RecordCount,
		FileSizeBytes: size,
	})
	if err != nil {
		if deleteErr := l.Store.Delete(ctx, objectPath); deleteErr != nil {
			l.logger().WarnContext(ctx, "failed to remove unregistered object", slog.String("object_path", objectPath), slog.Any("error", deleteErr))
		}
		return Result{}, err
	}

	columns := make([]sqlcheck.Column, len(dataset.Columns))
	for i, name := range dataset.Columns {
		columns[i] = sqlcheck.Column{Name: name, Type: types[i]}
	}
	l.logger().InfoContext(ctx, "loaded table file",
		slog.String("tenant_id", req.TenantID),
		slog.String("table", table.QualifiedName()),
		slog.Int64("record_count", encoded.RecordCount),
		slog.String("object_path", objectPath),
	)
	return Result{Table: table, File: file, Columns: columns}, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
