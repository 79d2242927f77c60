package sqlpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/sqlpilot/internal/stream"
)

func TestRunTablesCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tables":["sales.orders"]}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-tenant-id", "tenant-a",
		"tables",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/tables" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotTenant != "tenant-a" {
		t.Fatalf("headers api_key=%q tenant=%q", gotAPIKey, gotTenant)
	}
	if !strings.Contains(stdout.String(), "sales.orders") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunQuerySendsSQLAndRowLimit(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/query" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"columns":["n"],"rows":[[1]]}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "-row-limit", "5", "query", "SELECT", "1", "AS", "n"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if body["sql"] != "SELECT 1 AS n" || body["row_limit"] != float64(5) {
		t.Fatalf("body = %#v", body)
	}
}

func TestRunTranslateRequiresQuestion(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"translate"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "requires a question") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunClearSessionUsesSessionFlag(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"cleared"}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "-session", "s-9", "clear-session"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/sessions/s-9" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestRunAskPrintsStreamedEvents(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		_ = stream.Encode(w, stream.Info("Starting SQL agent..."))
		_ = stream.Encode(w, stream.QueryGenerated("SELECT 1"))
		_ = stream.Encode(w, stream.FinalAnswer("Answer: 1"))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "how", "many?"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	want := "Starting SQL agent...\n\nGenerated Query: SELECT 1\n\nFinal Answer: Answer: 1\n\n"
	if stdout.String() != want {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if body["prompt"] != "how many?" || body["session_id"] != "default" {
		t.Fatalf("body = %#v", body)
	}
}

func TestRunAskNewSessionAndTrailingError(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = stream.Encode(w, stream.Info("Starting SQL agent..."))
		_ = stream.Encode(w, stream.Error("Error: model unavailable"))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-new-session", "ask", "q"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	session, _ := body["session_id"].(string)
	if session == "" || session == "default" {
		t.Fatalf("session_id = %q", session)
	}
	if !strings.Contains(stderr.String(), "session: "+session) || !strings.Contains(stderr.String(), "model unavailable") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunReturnsErrorForHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error_code":"NOT_READY"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ready"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 503") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code := Run(context.Background(), []string{"vacuum"}, Options{})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
