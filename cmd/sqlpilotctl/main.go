package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/duckmesh/sqlpilot/internal/cli/sqlpilotctl"
)

func main() {
	_ = godotenv.Load()

	options := sqlpilotctl.Options{
		BaseURL:       envOr("SQLPILOT_API_URL", "http://localhost:8080"),
		APIKey:        strings.TrimSpace(os.Getenv("SQLPILOT_API_KEY")),
		TenantID:      strings.TrimSpace(os.Getenv("SQLPILOT_TENANT_ID")),
		SessionID:     strings.TrimSpace(os.Getenv("SQLPILOT_SESSION_ID")),
		Timeout:       parseDurationWithDefault("SQLPILOT_CLI_TIMEOUT", 10*time.Second),
		StreamTimeout: parseDurationWithDefault("SQLPILOT_CLI_STREAM_TIMEOUT", 5*time.Minute),
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := sqlpilotctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid %s %q; using %s\n", key, raw, fallback)
		return fallback
	}
	return parsed
}
