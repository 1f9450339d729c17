// Package orchestrator drives a completion exchange from filtered history
// through streaming to post-hoc accounting. An exchange produces exactly one
// terminal outcome: the assistant turn ends up complete or error, and a
// usage record is written only for fully accounted completions.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/metrics"
	"llmrouter/internal/store"
	"llmrouter/internal/usage"
)

// FragmentFunc receives each streamed text fragment as it arrives. A non-nil
// return stops the exchange; the client is treated as gone.
type FragmentFunc func(text string) error

// Exchange identifies one in-flight completion: the conversation it belongs
// to and the pending assistant turn that will receive the outcome.
type Exchange struct {
	Conversation *store.Conversation
	Assistant    *store.Message
	DeviceID     string
	Temperature  *float64
	Reasoning    string
}

// Orchestrator owns the per-exchange state machine. It holds providers only
// through the core.Provider interface.
type Orchestrator struct {
	registry  *catalog.Registry
	providers map[string]core.Provider
	store     store.Store
	usage     usage.LoggerInterface
}

// New creates an orchestrator over the given provider set.
func New(registry *catalog.Registry, providers map[string]core.Provider, st store.Store, usageLogger usage.LoggerInterface) *Orchestrator {
	if usageLogger == nil {
		usageLogger = &usage.NoopLogger{}
	}
	return &Orchestrator{
		registry:  registry,
		providers: providers,
		store:     st,
		usage:     usageLogger,
	}
}

// Registry returns the catalog registry the orchestrator resolves against.
func (o *Orchestrator) Registry() *catalog.Registry {
	return o.registry
}

// Run executes one exchange to its terminal state. The assistant turn must
// already exist in pending status; Run mutates it to complete or error and
// never leaves it pending. onFragment may be nil for detached delivery.
//
// The returned result mirrors what was persisted. Run itself returns a
// non-nil result even for failed exchanges; callers inspect result.Status.
func (o *Orchestrator) Run(ctx context.Context, ex *Exchange, onFragment FragmentFunc) *core.CompletionResult {
	model := ex.Conversation.Model

	provider, err := o.resolveProvider(model)
	if err != nil {
		return o.fail(ctx, ex, "", "", err)
	}

	temperature, reasoning, err := Normalize(o.registry, model, ex.Temperature, ex.Reasoning)
	if err != nil {
		return o.fail(ctx, ex, "", provider.Name(), err)
	}

	msgs, err := o.store.ListMessages(ctx, ex.Conversation.ID)
	if err != nil {
		return o.fail(ctx, ex, "", provider.Name(), core.NewProviderError(provider.Name(), 0, "failed to load conversation history", err))
	}

	req := &core.CompletionRequest{
		Model:       model,
		Messages:    BuildHistory(ex.Conversation.SystemPrompt, msgs, ex.Assistant.ID),
		Temperature: temperature,
		Reasoning:   reasoning,
	}

	ch, err := provider.Stream(ctx, req)
	if err != nil {
		return o.fail(ctx, ex, "", provider.Name(), err)
	}

	var text string
	for chunk := range ch {
		if chunk.Err != nil {
			return o.fail(ctx, ex, text, provider.Name(), chunk.Err)
		}
		text += chunk.Text
		if onFragment != nil {
			if err := onFragment(chunk.Text); err != nil {
				// Client gone. Stop streaming, keep what arrived, skip
				// accounting: an unfinished completion has no verifiable cost.
				return o.fail(ctx, ex, text, provider.Name(),
					core.NewProviderError(provider.Name(), 0, "client disconnected mid-stream", err))
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, ex, text, provider.Name(),
			core.NewProviderError(provider.Name(), 0, "completion cancelled", err))
	}

	return o.account(ctx, ex, req, provider, text)
}

// account runs post-hoc accounting for a fully streamed completion and
// persists the terminal state. An accounting failure keeps the streamed text
// but marks the turn errored and writes no usage record.
func (o *Orchestrator) account(ctx context.Context, ex *Exchange, req *core.CompletionRequest, provider core.Provider, text string) *core.CompletionResult {
	accountingReq := req
	if req.Reasoning != "" {
		withDirective := *req
		withDirective.Messages = append([]core.Message{core.ReasoningDirective(req.Reasoning)}, req.Messages...)
		accountingReq = &withDirective
	}

	u, err := provider.CountUsage(ctx, accountingReq, text)
	if err != nil {
		accErr := core.NewAccountingError(provider.Name(), "token accounting failed", err)
		result := o.fail(ctx, ex, text, provider.Name(), accErr)
		result.Text = text
		return result
	}

	cost := usage.Cost(o.registry.Pricing(req.Model), u.InputTokens, u.OutputTokens)

	ex.Assistant.Content = text
	ex.Assistant.Status = core.StatusComplete
	ex.Assistant.InputTokens = u.InputTokens
	ex.Assistant.OutputTokens = u.OutputTokens
	ex.Assistant.Cost = cost
	ex.Assistant.ErrorType = ""
	ex.Assistant.ErrorDetail = ""
	if err := o.store.UpdateMessage(persistContext(ctx), ex.Assistant); err != nil {
		slog.Error("failed to persist completed assistant turn",
			"error", err, "message_id", ex.Assistant.ID)
	}

	o.usage.Write(&usage.Record{
		ID:             uuid.NewString(),
		ConversationID: ex.Conversation.ID,
		MessageID:      ex.Assistant.ID,
		DeviceID:       ex.DeviceID,
		Timestamp:      time.Now().UTC(),
		Model:          req.Model,
		Provider:       provider.Name(),
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		Cost:           cost,
		Approximate:    u.Approximate,
	})

	metrics.RecordCompletion(req.Model, provider.Name(), core.StatusComplete)
	metrics.RecordTokens(req.Model, u.InputTokens, u.OutputTokens)

	return &core.CompletionResult{
		Text:              text,
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		Cost:              cost,
		TokensApproximate: u.Approximate,
		Status:            core.StatusComplete,
	}
}

// fail persists the error outcome on the assistant turn. Accumulated text is
// kept so a partially streamed answer survives in the transcript.
func (o *Orchestrator) fail(ctx context.Context, ex *Exchange, text, providerName string, err error) *core.CompletionResult {
	errType := core.ClassifyError(err)

	ex.Assistant.Content = text
	ex.Assistant.Status = core.StatusError
	ex.Assistant.ErrorType = string(errType)
	ex.Assistant.ErrorDetail = err.Error()
	if updateErr := o.store.UpdateMessage(persistContext(ctx), ex.Assistant); updateErr != nil {
		slog.Error("failed to persist errored assistant turn",
			"error", updateErr, "message_id", ex.Assistant.ID)
	}

	slog.Warn("completion failed",
		"conversation_id", ex.Conversation.ID,
		"model", ex.Conversation.Model,
		"error_type", errType,
		"error", err,
	)

	metrics.RecordCompletion(ex.Conversation.Model, providerName, core.StatusError)

	return &core.CompletionResult{
		Text:        text,
		Status:      core.StatusError,
		ErrorType:   errType,
		ErrorDetail: err.Error(),
	}
}

// persistContext returns a context suitable for writing terminal state.
// The request context may already be cancelled when the outcome is recorded,
// which must not lose the write.
func persistContext(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	return context.WithoutCancel(ctx)
}

func (o *Orchestrator) resolveProvider(model string) (core.Provider, error) {
	name, err := o.registry.ResolveProvider(model)
	if err != nil {
		return nil, err
	}
	provider, ok := o.providers[name]
	if !ok {
		return nil, core.NewProviderError(name, 0, "provider is not configured", nil)
	}
	return provider, nil
}
