package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/duckmesh/sqlpilot/internal/config"
)

func TestNewLoggerJSONIncludesServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileProd}
	cfg.Service.Name = "sqlpilot-api"
	cfg.Observability.LogLevel = slog.LevelInfo
	cfg.Observability.LogFormat = config.LogFormatJSON

	NewLogger(cfg, &buf).Info("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if entry["service"] != "sqlpilot-api" || entry["profile"] != "prod" {
		t.Fatalf("unexpected attributes: %#v", entry)
	}
}

func TestNewLoggerTintRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileDev}
	cfg.Service.Name = "sqlpilot-api"
	cfg.Observability.LogLevel = slog.LevelWarn
	cfg.Observability.LogFormat = config.LogFormatTint

	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %q", out)
	}
}
