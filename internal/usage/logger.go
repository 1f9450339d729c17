package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchFlushThreshold is the number of records that triggers an immediate
// flush without waiting for the timer.
const BatchFlushThreshold = 100

// Logger provides async buffered usage logging with batch writes.
// Records are collected in a channel and flushed to storage either when
// the batch reaches BatchFlushThreshold or at regular intervals.
type Logger struct {
	store         UsageStore
	config        Config
	buffer        chan *Record
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // tracks in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger creates a new async buffered Logger.
// The logger starts a background goroutine for flushing records.
func NewLogger(store UsageStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *Record, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues a usage record for async writing.
// This method is non-blocking. If the buffer is full or the logger is
// closed, the record is dropped and a warning is logged.
func (l *Logger) Write(record *Record) {
	if record == nil {
		return
	}

	if l.closed.Load() {
		return
	}

	// Track this write to prevent Close from closing buffer while we're sending
	l.writes.Add(1)
	defer l.writes.Done()

	// Re-check after registering: Close() may have set closed in between
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- record:
	default:
		slog.Warn("usage buffer full, dropping record",
			"conversation_id", record.ConversationID,
			"model", record.Model,
		)
	}
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the logger and flushes remaining records.
// Safe to call multiple times.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	// Wait for in-flight Write calls before closing the buffer
	l.writes.Wait()

	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

// flushLoop runs in the background and periodically flushes the buffer.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, BatchFlushThreshold)

	for {
		select {
		case record := <-l.buffer:
			batch = append(batch, record)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// l.closed is already set, so no new sends can race this close
			close(l.buffer)
			for record := range l.buffer {
				batch = append(batch, record)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

// flushBatch writes a batch of records to the store.
func (l *Logger) flushBatch(batch []*Record) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger discards all records (used when usage tracking is disabled)
type NoopLogger struct{}

// Write does nothing
func (l *NoopLogger) Write(_ *Record) {}

// Config returns an empty config
func (l *NoopLogger) Config() Config {
	return Config{}
}

// Close does nothing
func (l *NoopLogger) Close() error {
	return nil
}

// LoggerInterface defines the interface for loggers (both real and noop)
type LoggerInterface interface {
	Write(record *Record)
	Config() Config
	Close() error
}
