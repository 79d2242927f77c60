package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duckmesh/sqlpilot/internal/history"
	"github.com/duckmesh/sqlpilot/internal/llm"
)

// Store persists chat history in the chat_message table.
type Store struct {
	db          *sql.DB
	maxMessages int
}

var _ history.Store = (*Store)(nil)

func NewStore(db *sql.DB, maxMessages int) *Store {
	return &Store{db: db, maxMessages: history.MessageLimit(maxMessages)}
}

// Load returns the most recent maxMessages messages in insertion order.
func (s *Store) Load(ctx context.Context, key history.Key) ([]llm.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content
FROM (
    SELECT message_id, role, content
    FROM chat_message
    WHERE tenant_id = $1 AND session_id = $2
    ORDER BY message_id DESC
    LIMIT $3
) recent
ORDER BY message_id ASC`, key.Tenant, key.Session, s.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]llm.Message, 0)
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		messages = append(messages, llm.Message{Role: llm.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat message rows: %w", err)
	}
	return messages, nil
}

// Append stores the question and the answer in one transaction.
func (s *Store) Append(ctx context.Context, key history.Key, input, output string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
INSERT INTO chat_message (tenant_id, session_id, role, content)
VALUES ($1, $2, $3, $4)`
	for _, message := range []llm.Message{llm.User(input), llm.Assistant(output)} {
		if _, err := tx.ExecContext(ctx, insert, key.Tenant, key.Session, string(message.Role), message.Content); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, key history.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM chat_message
WHERE tenant_id = $1 AND session_id = $2`, key.Tenant, key.Session); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}
