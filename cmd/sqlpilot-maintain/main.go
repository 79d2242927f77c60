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
	"github.com/duckmesh/sqlpilot/internal/maintenance"
	"github.com/duckmesh/sqlpilot/internal/observability"
	s3store "github.com/duckmesh/sqlpilot/internal/storage/s3"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant to check")
	task := flag.String("task", "integrity", "task to run: integrity|sweep")
	dryRun := flag.Bool("dry-run", true, "sweep only reports orphans when set")
	grace := flag.Duration("grace", time.Hour, "skip objects written more recently than this during a sweep")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlpilot-maintain")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	tenant := strings.TrimSpace(*tenantID)
	if tenant == "" || (*task != "integrity" && *task != "sweep") {
		fmt.Fprintln(os.Stderr, "usage: sqlpilot-maintain -tenant T [-task integrity|sweep] [-dry-run=false] [-grace 1h]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, runErr := run(ctx, cfg, logger, tenant, *task, *dryRun, *grace)
	if summary != nil {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(summary)
	}
	if runErr != nil {
		logger.Error("maintenance task failed", slog.String("task", *task), slog.Any("error", runErr))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, tenantID, task string, dryRun bool, grace time.Duration) (any, error) {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		ConnectRetries:  cfg.Catalog.ConnectRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		Bucket:          cfg.ObjectStore.Bucket,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
		Prefix:          cfg.ObjectStore.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}

	svc := &maintenance.Service{
		Catalog:     catalogpostgres.NewRepository(db),
		ObjectStore: store,
		Logger:      logger,
		OrphanGrace: grace,
	}
	if task == "sweep" {
		summary, err := svc.SweepOrphans(ctx, tenantID, dryRun)
		return summary, err
	}
	summary, err := svc.CheckIntegrity(ctx, tenantID)
	return summary, err
}
