package nl2sql

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/duckmesh/sqlpilot/internal/llm"
	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/refine"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

func TestExtractQuery(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"SELECT region FROM sales.orders", "SELECT region FROM sales.orders"},
		{"```sql\nselect 1\n```", "select 1"},
		{"Here is the query: SELECT region FROM sales.orders; hope it helps", "SELECT region FROM sales.orders;"},
		{"I cannot answer that.", "SELECT COUNT(*) FROM sales.orders"},
	}
	for _, tc := range cases {
		if got := ExtractQuery(tc.content, "sales.orders"); got != tc.want {
			t.Fatalf("ExtractQuery(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestSelectTableSendsHistoryAndTrims(t *testing.T) {
	client := &scriptedClient{reply: func([]llm.Message) string { return "  sales.orders \n" }}
	steps := NewSteps(client)
	history := []llm.Message{llm.User("earlier"), llm.Assistant("Answer: earlier")}

	table, err := steps.SelectTable(context.Background(), "how many orders?", "Tables in the database:\nsales.orders", history)
	if err != nil {
		t.Fatalf("SelectTable() error = %v", err)
	}
	if table != "sales.orders" {
		t.Fatalf("table = %q", table)
	}
	sent := client.lastCall()
	if len(sent) != 3 || sent[0] != history[0] || sent[1] != history[1] {
		t.Fatalf("messages = %#v", sent)
	}
	want := `Based on this question: "how many orders?" and these available tables: Tables in the database:
sales.orders, which table should I get the schema for? Just respond with the table name in format 'dataset.table'.`
	if sent[2].Role != llm.RoleUser || sent[2].Content != want {
		t.Fatalf("prompt = %q", sent[2].Content)
	}
}

func TestGenerateQueryPutsInstructionFirst(t *testing.T) {
	client := &scriptedClient{reply: func([]llm.Message) string { return "No idea." }}
	steps := NewSteps(client)

	sql, err := steps.GenerateQuery(context.Background(), "q", "tables", "schema", "sales.orders", []llm.Message{llm.User("h")})
	if err != nil {
		t.Fatalf("GenerateQuery() error = %v", err)
	}
	if sql != "SELECT COUNT(*) FROM sales.orders" {
		t.Fatalf("sql = %q", sql)
	}
	sent := client.lastCall()
	if sent[0].Role != llm.RoleSystem || !strings.Contains(sent[0].Content, "DuckDB") {
		t.Fatalf("first message = %#v", sent[0])
	}
	if sent[1] != llm.User("h") {
		t.Fatalf("history not forwarded: %#v", sent)
	}
	if sent[2].Content != "Question: q\n\nAvailable tables: tables\n\nSchema: schema" {
		t.Fatalf("user prompt = %q", sent[2].Content)
	}
}

func TestStepsRejectEmptyModelOutput(t *testing.T) {
	steps := NewSteps(&scriptedClient{reply: func([]llm.Message) string { return "  " }})
	_, err := steps.ExplainQuery(context.Background(), "SELECT 1")
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("ExplainQuery() error = %v, want ErrEmptyResponse", err)
	}
}

func TestTranslateValidatesGeneratedQuery(t *testing.T) {
	client := &scriptedClient{reply: agentReplies("```sql\nSELECT region FROM sales.orders;\n```", "")}
	engine := newFakeEngine()
	translator := NewTranslator(NewSteps(client), engine, refine.NewLoop(refine.NewLLMRepairer(client), 3, 1000, 10, nil), nil)

	var events []stream.Event
	result, err := translator.Translate(context.Background(), Request{
		TenantID: "tenant-a",
		Question: "which regions have orders?",
		Emit:     func(e stream.Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT region FROM sales.orders LIMIT 1000" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Table != "sales.orders" || result.UsedFallback || result.Attempts != 0 {
		t.Fatalf("result = %+v", result)
	}
	if engine.dryRuns != 1 {
		t.Fatalf("dry runs = %d, want 1", engine.dryRuns)
	}

	wantKinds := []stream.Kind{stream.KindToolResponse, stream.KindInfo, stream.KindToolResponse, stream.KindInfo, stream.KindInfo}
	if len(events) != len(wantKinds) {
		t.Fatalf("events = %+v", events)
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Fatalf("event[%d] = %+v, want kind %s", i, events[i], kind)
		}
	}
	if events[1].Content != "Selecting table: sales.orders" {
		t.Fatalf("selection event = %q", events[1].Content)
	}
	if !strings.HasPrefix(events[2].Content, "Schema for table sales.orders:") {
		t.Fatalf("schema event = %q", events[2].Content)
	}
	if !strings.HasPrefix(events[4].Content, "Warning: Query may reference columns not in schema") {
		t.Fatalf("warning event = %q", events[4].Content)
	}
}

func TestTranslateFallsBackWhenSchemaIsMissing(t *testing.T) {
	client := &scriptedClient{reply: agentReplies("SELECT region FROM sales.orders", "SELECT region FROM sales.orders")}
	engine := newFakeEngine()
	engine.describeErr = query.ErrTableNotFound
	translator := NewTranslator(NewSteps(client), engine, refine.NewLoop(refine.NewLLMRepairer(client), 3, 1000, 10, nil), nil)

	var errorsSeen []string
	result, err := translator.Translate(context.Background(), Request{
		TenantID: "tenant-a",
		Question: "which regions have orders?",
		Emit: func(e stream.Event) {
			if e.Kind == stream.KindError {
				errorsSeen = append(errorsSeen, e.Content)
			}
		},
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if !result.UsedFallback || result.SQL != "SELECT * FROM sales.orders LIMIT 10" {
		t.Fatalf("result = %+v", result)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
	if !strings.HasPrefix(result.Schema, "Error getting schema for table sales.orders") {
		t.Fatalf("Schema = %q", result.Schema)
	}
	if len(errorsSeen) != 2 || !strings.HasPrefix(errorsSeen[0], "Schema compatibility error: Could not extract table name from schema") || errorsSeen[1] != "Could not refine query. Using fallback query." {
		t.Fatalf("error events = %#v", errorsSeen)
	}
	if engine.dryRuns != 0 {
		t.Fatalf("dry runs = %d, want 0 after fallback", engine.dryRuns)
	}
}

func TestTranslateRequiresQuestion(t *testing.T) {
	translator := NewTranslator(NewSteps(&scriptedClient{}), newFakeEngine(), refine.NewLoop(refine.NewLLMRepairer(&scriptedClient{}), 3, 1000, 10, nil), nil)
	if _, err := translator.Translate(context.Background(), Request{TenantID: "tenant-a", Question: "  "}); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("Translate() error = %v, want ErrEmptyQuestion", err)
	}
}

// agentReplies answers each step of the flow by recognising its prompt.
func agentReplies(generated, repaired string) func([]llm.Message) string {
	return func(messages []llm.Message) string {
		last := messages[len(messages)-1].Content
		switch {
		case strings.Contains(last, "which table should I get the schema for"):
			return "sales.orders"
		case strings.HasPrefix(last, "Fix this DuckDB SQL query"):
			return repaired
		case strings.HasPrefix(last, "Question: ") && messages[0].Content == queryGenInstruction:
			return generated
		case strings.HasPrefix(last, "Explain this SQL query"):
			return "It lists regions."
		default:
			return "Answer: north and south"
		}
	}
}

type scriptedClient struct {
	mu    sync.Mutex
	reply func([]llm.Message) string
	calls [][]llm.Message
}

func (c *scriptedClient) Generate(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	if c.reply == nil {
		return "", llm.ErrEmptyResponse
	}
	return c.reply(messages), nil
}

func (c *scriptedClient) lastCall() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type fakeEngine struct {
	describeErr error
	dryRuns     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (f *fakeEngine) ListTables(context.Context, string) ([]string, error) {
	return []string{"sales.orders"}, nil
}

func (f *fakeEngine) DescribeTable(context.Context, string, string) ([]sqlcheck.Column, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return []sqlcheck.Column{{Name: "region", Type: "VARCHAR"}, {Name: "amount", Type: "DOUBLE"}}, nil
}

func (f *fakeEngine) DryRun(context.Context, string, string) error {
	f.dryRuns++
	return nil
}

func (f *fakeEngine) Execute(context.Context, query.Request) (query.Result, error) {
	return query.Result{}, nil
}
