// Package usage provides token and cost accounting for completions.
// Records are buffered in memory and flushed to storage in batches.
package usage

import (
	"context"
	"time"
)

// UsageStore defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type UsageStore interface {
	// WriteBatch writes multiple usage records to storage.
	// Called by the Logger when flushing buffered records.
	WriteBatch(ctx context.Context, records []*Record) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Record represents the accounting outcome of a single completion.
type Record struct {
	// ID is a unique identifier for this record (UUID)
	ID string `json:"id" bson:"_id"`

	// ConversationID links the record to the conversation that produced it
	ConversationID string `json:"conversation_id" bson:"conversation_id"`

	// MessageID is the assistant message the record accounts for
	MessageID string `json:"message_id" bson:"message_id"`

	// DeviceID scopes the record to the client device that issued the request
	DeviceID string `json:"device_id" bson:"device_id"`

	// Timestamp is when the completion finished
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Model    string `json:"model" bson:"model"`
	Provider string `json:"provider" bson:"provider"`

	InputTokens  int `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int `json:"output_tokens" bson:"output_tokens"`

	// Cost is the total cost in dollars, derived from the model's per-1K rates
	Cost float64 `json:"cost" bson:"cost"`

	// Approximate is true when token counts came from a length heuristic
	// rather than a real tokenizer
	Approximate bool `json:"approximate" bson:"approximate"`
}

// Config holds usage tracking configuration
type Config struct {
	// BufferSize is the number of records to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered records
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 0,
	}
}
