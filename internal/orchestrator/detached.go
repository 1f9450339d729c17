package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"llmrouter/internal/core"
)

// DetachedTimeout bounds a background completion. It exceeds any reasonable
// single-completion latency; turns that outlive it are reconciled by the
// sweeper on top of the context deadline.
const DetachedTimeout = 10 * time.Minute

// RunDetached executes the exchange in a background goroutine with its own
// context, detached from the submitting request. The caller returns to the
// client immediately; the pending assistant turn carries the outcome.
func (o *Orchestrator) RunDetached(ex *Exchange) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DetachedTimeout)
		defer cancel()

		result := o.Run(ctx, ex, nil)

		if result.Status == core.StatusError {
			slog.Warn("detached completion failed",
				"conversation_id", ex.Conversation.ID,
				"message_id", ex.Assistant.ID,
				"error_type", result.ErrorType,
			)
			return
		}
		slog.Debug("detached completion finished",
			"conversation_id", ex.Conversation.ID,
			"message_id", ex.Assistant.ID,
			"cost", result.Cost,
		)
	}()
}
