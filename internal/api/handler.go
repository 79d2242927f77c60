// Package api serves the assistant over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/sqlpilot/internal/assistant"
	"github.com/duckmesh/sqlpilot/internal/config"
	"github.com/duckmesh/sqlpilot/internal/history"
	"github.com/duckmesh/sqlpilot/internal/nl2sql"
	"github.com/duckmesh/sqlpilot/internal/observability"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, req assistant.Request, emit func(stream.Event)) (assistant.Result, error)
}

type QueryTranslator interface {
	Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Asker
	QueryTranslator   QueryTranslator
	QueryEngine       query.Engine
	History           history.Store
	// RateLimiter guards the routes that call the language model. Nil
	// disables limiting.
	RateLimiter *TenantRateLimiter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := map[string]http.HandlerFunc{
		"POST /v1/ask": func(w http.ResponseWriter, r *http.Request) {
			handleAsk(deps, w, r)
		},
		"POST /v1/query/translate": func(w http.ResponseWriter, r *http.Request) {
			handleTranslate(deps, w, r)
		},
		"POST /v1/query": func(w http.ResponseWriter, r *http.Request) {
			handleQuery(deps, w, r)
		},
		"GET /v1/tables": func(w http.ResponseWriter, r *http.Request) {
			handleListTables(deps, w, r)
		},
		"GET /v1/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"DELETE /v1/sessions/{session}": func(w http.ResponseWriter, r *http.Request) {
			handleClearSession(deps, w, r)
		},
	}
	for pattern, handler := range protected {
		mux.Handle(pattern, protect(cfg, deps, handler))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func protect(cfg config.Config, deps Dependencies, handler http.Handler) http.Handler {
	if !cfg.Auth.Required {
		return handler
	}
	if deps.AuthMiddleware == nil {
		if deps.Logger != nil {
			deps.Logger.Error("auth required but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
		})
	}
	return deps.AuthMiddleware(handler)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
