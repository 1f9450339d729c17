package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"llmrouter/internal/core"
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite conversation store.
// It creates the tables if they don't exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature REAL,
			reasoning TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'complete',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_conversations_device_id ON conversations(device_id)",
		"CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, system_prompt, device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.Model, conv.SystemPrompt, conv.DeviceID,
		conv.CreatedAt.UTC().Format(time.RFC3339Nano), conv.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id, deviceID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, model, system_prompt, device_id, created_at, updated_at
		FROM conversations WHERE id = ? AND device_id = ?
	`, id, deviceID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, deviceID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, system_prompt, device_id, created_at, updated_at
		FROM conversations WHERE device_id = ? ORDER BY updated_at DESC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	result := make([]*Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, system_prompt = ?, updated_at = ?
		WHERE id = ?
	`, conv.Title, conv.SystemPrompt, conv.UpdatedAt.UTC().Format(time.RFC3339Nano), conv.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, deviceID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND device_id = ?", id, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	// CASCADE is not enforced unless foreign_keys is on, delete explicitly
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE conversation_id = ? ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	result := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+" WHERE id = ?", id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	var temp interface{}
	if msg.Temperature != nil {
		temp = *msg.Temperature
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, model, temperature,
			reasoning, status, input_tokens, output_tokens, cost, error_type, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Model, temp,
		msg.Reasoning, msg.Status, msg.InputTokens, msg.OutputTokens, msg.Cost,
		msg.ErrorType, msg.ErrorDetail, msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), msg.ConversationID); err != nil {
		slog.Warn("failed to bump conversation updated_at", "error", err, "conversation_id", msg.ConversationID)
	}
	return nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, status = ?, input_tokens = ?, output_tokens = ?,
			cost = ?, error_type = ?, error_detail = ?
		WHERE id = ?
	`, msg.Content, msg.Status, msg.InputTokens, msg.OutputTokens,
		msg.Cost, msg.ErrorType, msg.ErrorDetail, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) StalePendingMessages(ctx context.Context, cutoff time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE role = ? AND status = ? AND created_at < ?
	`, core.RoleAssistant, core.StatusPending, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending messages: %w", err)
	}
	defer rows.Close()

	result := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return result, nil
}

const messageSelect = `
	SELECT id, conversation_id, role, content, model, temperature, reasoning,
		status, input_tokens, output_tokens, cost, error_type, error_detail, created_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt string
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Model, &conv.SystemPrompt,
		&conv.DeviceID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &conv, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var temp sql.NullFloat64
	var createdAt string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.Model, &temp, &msg.Reasoning, &msg.Status, &msg.InputTokens,
		&msg.OutputTokens, &msg.Cost, &msg.ErrorType, &msg.ErrorDetail, &createdAt); err != nil {
		return nil, err
	}
	if temp.Valid {
		msg.Temperature = &temp.Float64
	}
	msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &msg, nil
}
