package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements UsageStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates a new PostgreSQL usage store.
// It creates the usage table if it doesn't exist and starts a background
// cleanup goroutine if retention is configured.
func NewPostgreSQLStore(pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage (
			id UUID PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			approximate BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_usage_conversation_id ON usage(conversation_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_device_id ON usage(device_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch writes multiple usage records to PostgreSQL.
// Small batches use individual inserts, larger ones run in a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	if len(records) < 10 {
		return s.writeBatchSmall(ctx, records)
	}

	return s.writeBatchLarge(ctx, records)
}

func (s *PostgreSQLStore) writeBatchSmall(ctx context.Context, records []*Record) error {
	var errs []error

	for _, r := range records {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO usage (id, conversation_id, message_id, device_id, timestamp,
				model, provider, input_tokens, output_tokens, cost, approximate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ConversationID, r.MessageID, r.DeviceID, r.Timestamp,
			r.Model, r.Provider, r.InputTokens, r.OutputTokens, r.Cost, r.Approximate)

		if err != nil {
			slog.Warn("failed to insert usage record", "error", err, "id", r.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage records: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

func (s *PostgreSQLStore) writeBatchLarge(ctx context.Context, records []*Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var errs []error

	for _, r := range records {
		_, err = tx.Exec(ctx, `
			INSERT INTO usage (id, conversation_id, message_id, device_id, timestamp,
				model, provider, input_tokens, output_tokens, cost, approximate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ConversationID, r.MessageID, r.DeviceID, r.Timestamp,
			r.Model, r.Provider, r.InputTokens, r.OutputTokens, r.Cost, r.Approximate)

		if err != nil {
			slog.Warn("failed to insert usage record in batch", "error", err, "id", r.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage records: %w", len(errs), len(records), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
// The pool itself is managed by the storage layer. Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes usage records older than the retention period.
func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM usage WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage records", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old usage records", "deleted", result.RowsAffected())
	}
}
