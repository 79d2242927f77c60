package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/duckmesh/sqlpilot/internal/history"
	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/nl2sql"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/refine"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

func TestAskStreamsFullFlowAndSavesHistory(t *testing.T) {
	client := &fakeClient{}
	engine := &fakeEngine{rows: [][]any{{"north", int64(2)}, {"south", int64(1)}}}
	store := history.NewMemoryStore(10)
	service := newService(client, engine, store)

	var events []stream.Event
	result, err := service.Ask(context.Background(), Request{TenantID: "tenant-a", Question: "orders per region?"}, func(e stream.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer != "Answer: north has the most orders" {
		t.Fatalf("Answer = %q", result.Answer)
	}
	if result.SQL != "SELECT region, COUNT(*) AS n FROM sales.orders GROUP BY region LIMIT 1000" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if engine.executed != result.SQL {
		t.Fatalf("executed %q, want %q", engine.executed, result.SQL)
	}

	wantOrder := []string{
		"info:Starting SQL agent...",
		"tool_response:list_tables",
		"info:Selecting table: sales.orders",
		"tool_response:sql_db_schema",
		"info:Validating SQL query...",
		"query_generated:",
		"info:Executing validated query...",
		"tool_response:db_query_tool",
		"query_explanation:",
		"final_answer:",
	}
	var got []string
	for _, event := range events {
		if event.Kind == stream.KindInfo && strings.HasPrefix(event.Content, "Warning:") {
			continue
		}
		label := string(event.Kind) + ":"
		switch event.Kind {
		case stream.KindInfo:
			label += event.Content
		case stream.KindToolResponse:
			label += event.Tool
		}
		got = append(got, label)
	}
	if strings.Join(got, "|") != strings.Join(wantOrder, "|") {
		t.Fatalf("events:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(wantOrder, "\n"))
	}
	for _, event := range events {
		if event.Kind == stream.KindToolResponse && event.Tool == stream.ToolQuery {
			if !strings.Contains(event.Content, `"region": "north"`) {
				t.Fatalf("rows content = %q", event.Content)
			}
		}
	}

	saved, err := store.Load(context.Background(), history.Key{Tenant: "tenant-a", Session: "default"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(saved) != 2 || saved[0] != llm.User("orders per region?") || saved[1] != llm.Assistant(result.Answer) {
		t.Fatalf("history = %#v", saved)
	}
}

func TestAskPassesSessionHistoryToModel(t *testing.T) {
	client := &fakeClient{}
	store := history.NewMemoryStore(10)
	key := history.Key{Tenant: "tenant-a", Session: "s1"}
	if err := store.Append(context.Background(), key, "first question", "Answer: first"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	service := newService(client, &fakeEngine{}, store)

	if _, err := service.Ask(context.Background(), Request{TenantID: "tenant-a", SessionID: "s1", Question: "and now?"}, nil); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	selection := client.callMatching("which table should I get the schema for")
	if len(selection) != 3 || selection[0].Content != "first question" {
		t.Fatalf("selection messages = %#v", selection)
	}
	saved, _ := store.Load(context.Background(), key)
	if len(saved) != 4 {
		t.Fatalf("history length = %d, want 4", len(saved))
	}
}

func TestAskNarratesExecutionFailure(t *testing.T) {
	client := &fakeClient{}
	engine := &fakeEngine{execErr: errors.New("Conversion Error: could not convert")}
	service := newService(client, engine, history.NewMemoryStore(10))

	var errorEvents []string
	result, err := service.Ask(context.Background(), Request{TenantID: "tenant-a", Question: "orders per region?"}, func(e stream.Event) {
		if e.Kind == stream.KindError {
			errorEvents = append(errorEvents, e.Content)
		}
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.ExecutionError != "Conversion Error: could not convert" {
		t.Fatalf("ExecutionError = %q", result.ExecutionError)
	}
	if len(errorEvents) != 1 || errorEvents[0] != "Error executing query: Conversion Error: could not convert" {
		t.Fatalf("error events = %#v", errorEvents)
	}
	answerPrompt := client.callMatching("Query Result: ")
	if answerPrompt == nil || !strings.Contains(answerPrompt[len(answerPrompt)-1].Content, "Error executing query: Conversion Error") {
		t.Fatalf("answer prompt = %#v", answerPrompt)
	}
}

func TestAskEmptyResultMessage(t *testing.T) {
	service := newService(&fakeClient{}, &fakeEngine{}, history.NewMemoryStore(10))
	var rowsText string
	_, err := service.Ask(context.Background(), Request{TenantID: "tenant-a", Question: "orders?"}, func(e stream.Event) {
		if e.Kind == stream.KindToolResponse && e.Tool == stream.ToolQuery {
			rowsText = e.Content
		}
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if rowsText != "Query executed successfully but returned no results." {
		t.Fatalf("rows text = %q", rowsText)
	}
}

func TestAskStopsOnCancellationWithoutSavingHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{onExplain: cancel}
	store := history.NewMemoryStore(10)
	service := newService(client, &fakeEngine{}, store)

	_, err := service.Ask(ctx, Request{TenantID: "tenant-a", Question: "orders?"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ask() error = %v, want context.Canceled", err)
	}
	if client.callMatching("Query Result: ") != nil {
		t.Fatal("final answer requested after cancellation")
	}
	saved, _ := store.Load(context.Background(), history.Key{Tenant: "tenant-a", Session: "default"})
	if len(saved) != 0 {
		t.Fatalf("history written after cancellation: %#v", saved)
	}
}

func newService(client llm.Client, engine query.Engine, store history.Store) *Service {
	steps := nl2sql.NewSteps(client)
	loop := refine.NewLoop(refine.NewLLMRepairer(client), 3, 1000, 10, nil)
	return &Service{
		Translator: nl2sql.NewTranslator(steps, engine, loop, nil),
		Steps:      steps,
		Engine:     engine,
		History:    store,
	}
}

type fakeClient struct {
	mu        sync.Mutex
	calls     [][]llm.Message
	onExplain func()
}

func (c *fakeClient) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	c.mu.Unlock()

	last := messages[len(messages)-1].Content
	switch {
	case strings.Contains(last, "which table should I get the schema for"):
		return "sales.orders", nil
	case strings.HasPrefix(last, "Question: ") && strings.Contains(last, "Available tables:"):
		return "SELECT region, COUNT(*) AS n FROM sales.orders GROUP BY region", nil
	case strings.HasPrefix(last, "Explain this SQL query"):
		if c.onExplain != nil {
			c.onExplain()
		}
		return "It counts orders per region.", nil
	case strings.Contains(last, "Query Result: "):
		return "Answer: north has the most orders", nil
	default:
		return "", llm.ErrEmptyResponse
	}
}

// callMatching returns the first call whose last message contains fragment.
func (c *fakeClient) callMatching(fragment string) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if strings.Contains(call[len(call)-1].Content, fragment) {
			return call
		}
	}
	return nil
}

type fakeEngine struct {
	rows     [][]any
	execErr  error
	executed string
}

func (f *fakeEngine) ListTables(context.Context, string) ([]string, error) {
	return []string{"sales.orders"}, nil
}

func (f *fakeEngine) DescribeTable(context.Context, string, string) ([]sqlcheck.Column, error) {
	return []sqlcheck.Column{{Name: "region", Type: "VARCHAR"}, {Name: "amount", Type: "DOUBLE"}}, nil
}

func (f *fakeEngine) DryRun(context.Context, string, string) error {
	return nil
}

func (f *fakeEngine) Execute(_ context.Context, req query.Request) (query.Result, error) {
	f.executed = req.SQL
	if f.execErr != nil {
		return query.Result{}, f.execErr
	}
	return query.Result{Columns: []string{"region", "n"}, Rows: f.rows}, nil
}
