package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockStore implements UsageStore for testing
type mockStore struct {
	mu      sync.Mutex
	records []*Record
	closed  bool
}

func (m *mockStore) WriteBatch(_ context.Context, records []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) Flush(_ context.Context) error {
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) getRecords() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*Record, len(m.records))
	copy(result, m.records)
	return result
}

func TestLoggerFlushesOnInterval(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{
		BufferSize:    100,
		FlushInterval: 50 * time.Millisecond,
	})

	for i := 0; i < 5; i++ {
		logger.Write(&Record{
			ID:           fmt.Sprintf("rec-%d", i),
			Model:        "gpt-4o",
			Provider:     "openai",
			InputTokens:  100,
			OutputTokens: 50,
			Cost:         0.00075,
		})
	}

	time.Sleep(150 * time.Millisecond)

	if got := len(store.getRecords()); got != 5 {
		t.Errorf("expected 5 records after flush interval, got %d", got)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("logger close error: %v", err)
	}
	if !store.closed {
		t.Error("store should be closed")
	}
}

func TestLoggerCloseDrainsBuffer(t *testing.T) {
	store := &mockStore{}
	// Long interval so only Close can flush
	logger := NewLogger(store, Config{
		BufferSize:    100,
		FlushInterval: time.Hour,
	})

	for i := 0; i < 10; i++ {
		logger.Write(&Record{ID: fmt.Sprintf("rec-%d", i), Model: "gpt-4o"})
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(store.getRecords()); got != 10 {
		t.Errorf("expected 10 records after close drain, got %d", got)
	}
}

func TestLoggerCloseIdempotent(t *testing.T) {
	logger := NewLogger(&mockStore{}, Config{})
	if err := logger.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Write after close is a silent drop, not a panic
	logger.Write(&Record{ID: "after-close"})
}

func TestNoopLogger(t *testing.T) {
	logger := &NoopLogger{}
	logger.Write(&Record{ID: "ignored"})
	if err := logger.Close(); err != nil {
		t.Errorf("noop close: %v", err)
	}
}
