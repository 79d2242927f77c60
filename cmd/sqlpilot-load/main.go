package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	catalogpostgres "github.com/duckmesh/sqlpilot/internal/catalog/postgres"
	"github.com/duckmesh/sqlpilot/internal/config"
	"github.com/duckmesh/sqlpilot/internal/demo"
	"github.com/duckmesh/sqlpilot/internal/loader"
	"github.com/duckmesh/sqlpilot/internal/observability"
	s3store "github.com/duckmesh/sqlpilot/internal/storage/s3"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant that owns the table")
	dataset := flag.String("dataset", "", "dataset name")
	table := flag.String("table", "", "table name")
	filePath := flag.String("file", "", "CSV or JSON Lines file to load")
	format := flag.String("format", "", "input format: csv|jsonl (default: from file extension)")
	description := flag.String("description", "", "table description stored in the catalog")
	demoRows := flag.Int("demo", 0, "load N generated shop.events rows instead of a file")
	demoSeed := flag.Int64("demo-seed", 1, "seed for generated demo rows")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlpilot-load")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	if strings.TrimSpace(*tenantID) == "" || (strings.TrimSpace(*filePath) == "" && *demoRows <= 0) {
		fmt.Fprintln(os.Stderr, "usage: sqlpilot-load -tenant T -dataset D -table N (-file PATH [-format csv|jsonl] | -demo ROWS)")
		os.Exit(2)
	}
	req := loader.Request{
		TenantID:    strings.TrimSpace(*tenantID),
		Dataset:     strings.TrimSpace(*dataset),
		Table:       strings.TrimSpace(*table),
		Description: *description,
	}
	var source input
	if *demoRows > 0 {
		if req.Dataset == "" {
			req.Dataset = demo.Dataset
		}
		if req.Table == "" {
			req.Table = demo.Table
		}
		if req.Description == "" {
			req.Description = "Generated web shop events"
		}
		source.dataset = demo.NewGenerator(*demoSeed, 200, time.Now().Add(-time.Duration(*demoRows)*time.Minute)).Dataset(*demoRows)
	} else {
		req.Format, err = resolveFormat(*format, *filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		source.path = *filePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, logger, req, source)
	if err != nil {
		logger.Error("load failed", slog.Any("error", err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(map[string]any{
		"table":        result.Table.QualifiedName(),
		"object_path":  result.File.Path,
		"record_count": result.File.RecordCount,
		"columns":      result.Columns,
	})
}

func resolveFormat(flagValue, path string) (loader.Format, error) {
	if strings.TrimSpace(flagValue) != "" {
		return loader.ParseFormat(flagValue)
	}
	return loader.FormatFromPath(path)
}

// input is either a file path or generated rows.
type input struct {
	path    string
	dataset loader.Dataset
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, req loader.Request, source input) (loader.Result, error) {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		ConnectRetries:  cfg.Catalog.ConnectRetries,
	})
	if err != nil {
		return loader.Result{}, fmt.Errorf("open catalog db: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return loader.Result{}, fmt.Errorf("initialize object store: %w", err)
	}

	l := loader.New(catalogpostgres.NewRepository(db), store, logger)
	if source.path == "" {
		return l.LoadDataset(ctx, req, source.dataset)
	}
	file, err := os.Open(source.path)
	if err != nil {
		return loader.Result{}, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = file.Close() }()
	req.Body = file
	return l.Load(ctx, req)
}
