package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"llmrouter/internal/core"
	"llmrouter/internal/metrics"
	"llmrouter/internal/store"
)

// Sweeper reconciles assistant turns orphaned in pending status, which
// happens when the process dies mid-completion. Stuck turns are marked as
// errored so they stop being replayed as in-flight work.
type Sweeper struct {
	store     store.Store
	timeout   time.Duration
	interval  time.Duration
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper that marks turns pending longer than timeout,
// checking every interval.
func NewSweeper(st store.Store, timeout, interval time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    st,
		timeout:  timeout,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the background sweep loop. An initial sweep runs
// immediately to reconcile turns orphaned by the previous process.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.timeout)
	stale, err := s.store.StalePendingMessages(ctx, cutoff)
	if err != nil {
		slog.Error("failed to query stale pending turns", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	swept := 0
	for _, msg := range stale {
		msg.Status = core.StatusError
		msg.ErrorType = string(core.ErrorTypeProvider)
		msg.ErrorDetail = "completion did not finish before the pending timeout"
		if err := s.store.UpdateMessage(ctx, msg); err != nil {
			slog.Error("failed to reconcile stale pending turn",
				"error", err, "message_id", msg.ID)
			continue
		}
		swept++
	}

	if swept > 0 {
		metrics.RecordStaleSweep(swept)
		slog.Info("reconciled stale pending turns", "count", swept, "timeout", s.timeout)
	}
}
