package history

import (
	"context"
	"errors"
	"testing"

	"github.com/duckmesh/sqlpilot/internal/llm"
)

func TestMemoryStoreAppendCreatesSession(t *testing.T) {
	store := NewMemoryStore(0)
	key := Key{Tenant: "tenant-a", Session: "s1"}

	messages, err := store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages = %#v", messages)
	}

	if err := store.Append(context.Background(), key, "how many orders?", "Answer: 3"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	messages, err = store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []llm.Message{llm.User("how many orders?"), llm.Assistant("Answer: 3")}
	if len(messages) != len(want) || messages[0] != want[0] || messages[1] != want[1] {
		t.Fatalf("messages = %#v", messages)
	}
}

func TestMemoryStoreIsolatesTenantsAndSessions(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()
	if err := store.Append(ctx, Key{Tenant: "tenant-a", Session: "default"}, "q", "a"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	for _, key := range []Key{{Tenant: "tenant-b", Session: "default"}, {Tenant: "tenant-a", Session: "other"}} {
		messages, err := store.Load(ctx, key)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(messages) != 0 {
			t.Fatalf("Load(%+v) leaked messages %#v", key, messages)
		}
	}
}

func TestMemoryStoreKeepsMostRecentMessages(t *testing.T) {
	store := NewMemoryStore(4)
	key := Key{Tenant: "tenant-a", Session: "s1"}
	ctx := context.Background()
	for _, pair := range [][2]string{{"q1", "a1"}, {"q2", "a2"}, {"q3", "a3"}} {
		if err := store.Append(ctx, key, pair[0], pair[1]); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	messages, _ := store.Load(ctx, key)
	if len(messages) != 4 || messages[0].Content != "q2" || messages[3].Content != "a3" {
		t.Fatalf("messages = %#v", messages)
	}
}

func TestMemoryStoreOddLimitKeepsWholePairs(t *testing.T) {
	store := NewMemoryStore(3)
	key := Key{Tenant: "tenant-a", Session: "s1"}
	ctx := context.Background()
	for _, pair := range [][2]string{{"q1", "a1"}, {"q2", "a2"}, {"q3", "a3"}} {
		if err := store.Append(ctx, key, pair[0], pair[1]); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	messages, _ := store.Load(ctx, key)
	if len(messages) != 4 || messages[0] != llm.User("q2") || messages[3] != llm.Assistant("a3") {
		t.Fatalf("messages = %#v", messages)
	}
}

func TestMessageLimit(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, DefaultMaxMessages}, {-4, DefaultMaxMessages}, {1, 2}, {5, 6}, {8, 8}} {
		if got := MessageLimit(tc.in); got != tc.want {
			t.Fatalf("MessageLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(10)
	key := Key{Tenant: "tenant-a", Session: "s1"}
	ctx := context.Background()
	_ = store.Append(ctx, key, "q", "a")
	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	messages, _ := store.Load(ctx, key)
	if len(messages) != 0 {
		t.Fatalf("messages after clear = %#v", messages)
	}
	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("Clear() on empty session error = %v", err)
	}
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemoryStore(10)
	if _, err := store.Load(context.Background(), Key{Tenant: "tenant-a"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Load() error = %v, want ErrInvalidKey", err)
	}
	if err := store.Append(context.Background(), Key{Session: "s"}, "q", "a"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Append() error = %v, want ErrInvalidKey", err)
	}
}
