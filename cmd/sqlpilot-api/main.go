package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/duckmesh/sqlpilot/internal/api"
	"github.com/duckmesh/sqlpilot/internal/assistant"
	"github.com/duckmesh/sqlpilot/internal/auth"
	catalogpostgres "github.com/duckmesh/sqlpilot/internal/catalog/postgres"
	"github.com/duckmesh/sqlpilot/internal/config"
	"github.com/duckmesh/sqlpilot/internal/history"
	historypostgres "github.com/duckmesh/sqlpilot/internal/history/postgres"
	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/nl2sql"
	"github.com/duckmesh/sqlpilot/internal/observability"
	duckdbengine "github.com/duckmesh/sqlpilot/internal/query/duckdb"
	"github.com/duckmesh/sqlpilot/internal/refine"
	s3store "github.com/duckmesh/sqlpilot/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlpilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	undoMaxProcs, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", slog.Any("error", err))
	}
	defer undoMaxProcs()

	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStart()

	catalogDB, err := catalogpostgres.Open(startCtx, catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		ConnectRetries:  cfg.Catalog.ConnectRetries,
	})
	if err != nil {
		return fmt.Errorf("open catalog db: %w", err)
	}
	defer func() { _ = catalogDB.Close() }()
	catalogRepo := catalogpostgres.NewRepository(catalogDB)

	objectStore, err := s3store.New(startCtx, s3store.Config{
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
		return fmt.Errorf("initialize object store: %w", err)
	}

	queryEngine, err := duckdbengine.NewEngine(catalogRepo, objectStore, duckdbengine.Options{
		CacheDir:           cfg.Engine.CacheDir,
		FileCacheTTL:       cfg.Engine.FileCacheTTL,
		SchemaCacheTTL:     cfg.Engine.SchemaCacheTTL,
		StagingConcurrency: cfg.Engine.StagingConcurrency,
		MaxResultRows:      cfg.Engine.MaxResultRows,
	})
	if err != nil {
		return fmt.Errorf("initialize query engine: %w", err)
	}
	defer func() { _ = queryEngine.Close() }()

	client, err := llm.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("initialize language model client: %w", err)
	}
	steps := nl2sql.NewSteps(client)
	loop := refine.NewLoop(refine.NewLLMRepairer(client), cfg.Refinement.MaxAttempts, cfg.Refinement.RowCap, cfg.Refinement.FallbackLimit, logger)
	translator := nl2sql.NewTranslator(steps, queryEngine, loop, logger)

	var sessions history.Store
	switch cfg.History.Backend {
	case "postgres":
		sessions = historypostgres.NewStore(catalogDB, cfg.History.MaxMessages)
	default:
		sessions = history.NewMemoryStore(cfg.History.MaxMessages)
	}

	limiter := api.NewTenantRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer limiter.Close()

	deps := api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalogDSN(cfg),
			catalogRepo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
			objectStore.Ping,
		),
		DependencyTimeout: 2 * time.Second,
		Assistant: &assistant.Service{
			Translator: translator,
			Steps:      steps,
			Engine:     queryEngine,
			History:    sessions,
			RowLimit:   cfg.Refinement.RowCap,
			Logger:     logger,
		},
		QueryTranslator: translator,
		QueryEngine:     queryEngine,
		History:         sessions,
		RateLimiter:     limiter,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		if validator.Len() == 0 {
			logger.Warn("auth is required but no static keys are configured")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.String("history_backend", cfg.History.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
