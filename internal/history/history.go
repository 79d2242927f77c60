// Package history keeps the per-session conversation used as context for
// later questions in the same session.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/duckmesh/sqlpilot/internal/llm"
)

const (
	DefaultSession     = "default"
	DefaultMaxMessages = 40
)

var ErrInvalidKey = errors.New("history: tenant and session are required")

// Key scopes a conversation to one session of one tenant.
type Key struct {
	Tenant  string
	Session string
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Tenant) == "" || strings.TrimSpace(k.Session) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Store holds question/answer exchanges. Append creates the session when it
// does not exist yet; Load on an unknown session returns no messages.
type Store interface {
	Load(ctx context.Context, key Key) ([]llm.Message, error)
	Append(ctx context.Context, key Key, input, output string) error
	Clear(ctx context.Context, key Key) error
}

// MemoryStore keeps the most recent messages of each session in process.
type MemoryStore struct {
	mu          sync.Mutex
	maxMessages int
	sessions    map[Key][]llm.Message
}

func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{maxMessages: MessageLimit(maxMessages), sessions: map[Key][]llm.Message{}}
}

// MessageLimit resolves a configured history size. Odd sizes round up so that
// trimming drops whole question/answer pairs and a history never starts with
// an assistant message.
func MessageLimit(maxMessages int) int {
	if maxMessages <= 0 {
		return DefaultMaxMessages
	}
	if maxMessages%2 != 0 {
		maxMessages++
	}
	return maxMessages
}

func (s *MemoryStore) Load(_ context.Context, key Key) ([]llm.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.sessions[key]
	out := make([]llm.Message, len(messages))
	copy(out, messages)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, key Key, input, output string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := append(s.sessions[key], llm.User(input), llm.Assistant(output))
	if overflow := len(messages) - s.maxMessages; overflow > 0 {
		messages = append([]llm.Message(nil), messages[overflow:]...)
	}
	s.sessions[key] = messages
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}
