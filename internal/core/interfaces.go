package core

import "context"

// Provider is the contract every LLM backend adapter must satisfy. The
// orchestrator only ever holds this interface, never a concrete adapter.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai" or "anthropic".
	// Used for usage records, logging and metrics labels.
	Name() string

	// Stream executes the completion and returns a channel of text
	// fragments. An error return means the call failed before any fragment
	// was produced and the whole exchange fails. A mid-stream failure is
	// delivered as a final Chunk with Err set; the channel is closed after
	// it. The adapter stops producing promptly when ctx is cancelled.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan Chunk, error)

	// CountUsage computes best-effort token accounting for a finished
	// exchange: the input side from req.Messages, the output side from the
	// accumulated completion text.
	CountUsage(ctx context.Context, req *CompletionRequest, completion string) (Usage, error)

	// ListModels returns the model identifiers the provider currently
	// advertises. Used by the catalog's live listing; a failure here never
	// fails an exchange.
	ListModels(ctx context.Context) ([]string, error)
}
