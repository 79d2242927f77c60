package sqlpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/sqlpilot/internal/stream"
)

type Options struct {
	BaseURL       string
	APIKey        string
	TenantID      string
	SessionID     string
	Timeout       time.Duration
	StreamTimeout time.Duration
	HTTPClient    *http.Client
	Stdout        io.Writer
	Stderr        io.Writer
}

type apiRequest struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlpilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlpilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	sessionID := fs.String("session", firstNonEmpty(defaults.SessionID, "default"), "chat session for ask and clear-session")
	newSession := fs.Bool("new-session", false, "start ask in a fresh session and print its id")
	rowLimit := fs.Int("row-limit", 0, "row limit for query (0 uses the server maximum)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	streamTimeout := fs.Duration("stream-timeout", durationOr(defaults.StreamTimeout, 5*time.Minute), "overall timeout for ask")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	command := strings.TrimSpace(fs.Arg(0))
	text := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	var req apiRequest
	switch command {
	case "health":
		req = apiRequest{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		req = apiRequest{method: http.MethodGet, path: "/v1/ready"}
	case "tables":
		req = apiRequest{method: http.MethodGet, path: "/v1/tables"}
	case "schema":
		req = apiRequest{method: http.MethodGet, path: "/v1/schema"}
	case "translate":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "translate requires a question")
			return 2
		}
		req = apiRequest{method: http.MethodPost, path: "/v1/query/translate", body: map[string]any{"prompt": text}}
	case "query":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "query requires SQL")
			return 2
		}
		req = apiRequest{method: http.MethodPost, path: "/v1/query", body: map[string]any{"sql": text, "row_limit": *rowLimit}}
	case "clear-session":
		session := *sessionID
		if text != "" {
			session = text
		}
		req = apiRequest{method: http.MethodDelete, path: "/v1/sessions/" + url.PathEscape(session)}
	case "ask":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		session := *sessionID
		if *newSession {
			session = uuid.NewString()
			_, _ = fmt.Fprintf(stderr, "session: %s\n", session)
		}
		askCtx, cancel := context.WithTimeout(ctx, *streamTimeout)
		defer cancel()
		body := map[string]any{"prompt": text, "session_id": session}
		return runAsk(askCtx, client, *baseURL, *apiKey, *tenantID, body, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	requestCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	resp, err := doRequest(requestCtx, client, req, *baseURL, *apiKey, *tenantID, "application/json")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}

	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// runAsk prints each streamed event as it arrives. The exit code is 1 when
// the stream ends on an error event.
func runAsk(ctx context.Context, client *http.Client, baseURL, apiKey, tenantID string, body map[string]any, stdout, stderr io.Writer) int {
	req := apiRequest{method: http.MethodPost, path: "/v1/ask", body: body}
	resp, err := doRequest(ctx, client, req, baseURL, apiKey, tenantID, "text/event-stream")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		responseBody, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}

	reader := stream.NewReader(resp.Body)
	lastEvent := ""
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read stream: %v\n", err)
			return 1
		}
		lastEvent = frame.Event
		out := stdout
		if frame.Event == string(stream.KindError) {
			out = stderr
		}
		_, _ = fmt.Fprintf(out, "%s\n\n", frame.Data)
	}
	if lastEvent == string(stream.KindError) {
		return 1
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, in apiRequest, baseURL, apiKey, tenantID, accept string) (*http.Response, error) {
	var body io.Reader
	if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	endpoint := strings.TrimRight(baseURL, "/") + in.path
	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}
	return client.Do(req)
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlpilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables                 GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/ask (streamed)")
	_, _ = fmt.Fprintln(w, "  translate <question>   POST /v1/query/translate")
	_, _ = fmt.Fprintln(w, "  query <sql>            POST /v1/query")
	_, _ = fmt.Fprintln(w, "  clear-session [id]     DELETE /v1/sessions/{id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
