package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"llmrouter/internal/core"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates a new PostgreSQL conversation store.
// It creates the tables if they don't exist.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION,
			reasoning TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'complete',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
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
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &PostgreSQLStore{pool: pool}, nil
}

func (s *PostgreSQLStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, model, system_prompt, device_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conv.ID, conv.Title, conv.Model, conv.SystemPrompt, conv.DeviceID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) GetConversation(ctx context.Context, id, deviceID string) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, model, system_prompt, device_id, created_at, updated_at
		FROM conversations WHERE id = $1 AND device_id = $2
	`, id, deviceID).Scan(&conv.ID, &conv.Title, &conv.Model, &conv.SystemPrompt,
		&conv.DeviceID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgreSQLStore) ListConversations(ctx context.Context, deviceID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, model, system_prompt, device_id, created_at, updated_at
		FROM conversations WHERE device_id = $1 ORDER BY updated_at DESC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	result := make([]*Conversation, 0)
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Model, &conv.SystemPrompt,
			&conv.DeviceID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		result = append(result, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return result, nil
}

func (s *PostgreSQLStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $1, system_prompt = $2, updated_at = $3
		WHERE id = $4
	`, conv.Title, conv.SystemPrompt, conv.UpdatedAt, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) DeleteConversation(ctx context.Context, id, deviceID string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM conversations WHERE id = $1 AND device_id = $2", id, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, pgMessageSelect+`
		WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return collectPGMessages(rows)
}

func (s *PostgreSQLStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.pool.QueryRow(ctx, pgMessageSelect+" WHERE id = $1", id).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Model,
		&msg.Temperature, &msg.Reasoning, &msg.Status, &msg.InputTokens,
		&msg.OutputTokens, &msg.Cost, &msg.ErrorType, &msg.ErrorDetail, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return &msg, nil
}

func (s *PostgreSQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, model, temperature,
			reasoning, status, input_tokens, output_tokens, cost, error_type, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Model, msg.Temperature,
		msg.Reasoning, msg.Status, msg.InputTokens, msg.OutputTokens, msg.Cost,
		msg.ErrorType, msg.ErrorDetail, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		"UPDATE conversations SET updated_at = $1 WHERE id = $2",
		time.Now().UTC(), msg.ConversationID); err != nil {
		slog.Warn("failed to bump conversation updated_at", "error", err, "conversation_id", msg.ConversationID)
	}
	return nil
}

func (s *PostgreSQLStore) UpdateMessage(ctx context.Context, msg *Message) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $1, status = $2, input_tokens = $3, output_tokens = $4,
			cost = $5, error_type = $6, error_detail = $7
		WHERE id = $8
	`, msg.Content, msg.Status, msg.InputTokens, msg.OutputTokens,
		msg.Cost, msg.ErrorType, msg.ErrorDetail, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) StalePendingMessages(ctx context.Context, cutoff time.Time) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, pgMessageSelect+`
		WHERE role = $1 AND status = $2 AND created_at < $3
	`, core.RoleAssistant, core.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending messages: %w", err)
	}
	defer rows.Close()

	return collectPGMessages(rows)
}

const pgMessageSelect = `
	SELECT id, conversation_id, role, content, model, temperature, reasoning,
		status, input_tokens, output_tokens, cost, error_type, error_detail, created_at
	FROM messages`

func collectPGMessages(rows pgx.Rows) ([]*Message, error) {
	result := make([]*Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Model, &msg.Temperature, &msg.Reasoning, &msg.Status, &msg.InputTokens,
			&msg.OutputTokens, &msg.Cost, &msg.ErrorType, &msg.ErrorDetail, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		result = append(result, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return result, nil
}
