// Package openai provides the OpenAI adapter for the completion core.
//
// Two wire dialects exist: the conversational chat-completions dialect, and
// the single-input Responses dialect used by reasoning-capable identifiers
// (o-series and gpt-5 families). Dialect selection uses the same structural
// rule as capability inference, so a model that advertises reasoning support
// is always called with the first-class reasoning parameter.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/httpclient"
	"llmrouter/internal/providers"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	fallbackEncoding = "cl100k_base"
)

func init() {
	providers.Register(catalog.ProviderOpenAI, func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for OpenAI.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// New creates a new OpenAI provider adapter.
func New(apiKey string) *Provider {
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: httpclient.NewDefaultHTTPClient(),
	}
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
func NewWithHTTPClient(apiKey string, client *http.Client) *Provider {
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: client,
	}
}

// SetBaseURL allows configuring a custom base URL for the provider.
func (p *Provider) SetBaseURL(url string) {
	p.baseURL = strings.TrimRight(url, "/")
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return catalog.ProviderOpenAI
}

// chatRequest is the chat-completions wire format.
type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	Stream      bool           `json:"stream"`
}

// responsesRequest is the Responses API wire format used by reasoning models.
type responsesRequest struct {
	Model     string          `json:"model"`
	Input     []core.Message  `json:"input"`
	Reasoning *reasoningParam `json:"reasoning,omitempty"`
	Stream    bool            `json:"stream"`
}

type reasoningParam struct {
	Effort string `json:"effort"`
}

// buildBody selects the wire dialect for the request. Reasoning-family
// models take a first-class effort parameter; for everything else a
// requested reasoning level is injected as a synthetic leading system turn.
func buildBody(req *core.CompletionRequest) any {
	if catalog.IsReasoningFamily(req.Model) {
		body := &responsesRequest{
			Model:  req.Model,
			Input:  req.Messages,
			Stream: true,
		}
		if req.Reasoning != "" {
			body.Reasoning = &reasoningParam{Effort: req.Reasoning}
		}
		return body
	}

	messages := req.Messages
	if req.Reasoning != "" {
		messages = append([]core.Message{core.ReasoningDirective(req.Reasoning)}, messages...)
	}
	return &chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      true,
	}
}

// Stream executes the completion and emits text fragments as they arrive.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (<-chan core.Chunk, error) {
	endpoint := "/chat/completions"
	if catalog.IsReasoningFamily(req.Model) {
		endpoint = "/responses"
	}

	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		_ = resp.Body.Close() //nolint:errcheck
		return nil, core.ParseProviderError(p.Name(), resp.StatusCode, body, nil)
	}

	ch := make(chan core.Chunk)
	go p.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream parses the SSE body and forwards text deltas. Both dialects are
// handled: chat-completions deltas carry choices.0.delta.content, Responses
// deltas arrive as response.output_text.delta events.
func (p *Provider) readStream(ctx context.Context, body io.ReadCloser, ch chan<- core.Chunk) {
	defer close(ch)
	defer func() {
		_ = body.Close() //nolint:errcheck
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		if errField := gjson.Get(data, "error"); errField.Exists() && errField.Type == gjson.JSON {
			p.send(ctx, ch, core.Chunk{Err: core.NewProviderError(p.Name(), http.StatusBadGateway, errField.Get("message").String(), nil)})
			return
		}

		var text string
		switch eventType := gjson.Get(data, "type").String(); {
		case eventType == "response.output_text.delta":
			text = gjson.Get(data, "delta").String()
		case eventType == "response.failed":
			detail := gjson.Get(data, "response.error.message").String()
			p.send(ctx, ch, core.Chunk{Err: core.NewProviderError(p.Name(), http.StatusBadGateway, detail, nil)})
			return
		case eventType == "":
			text = gjson.Get(data, "choices.0.delta.content").String()
		}

		if text == "" {
			continue
		}
		if !p.send(ctx, ch, core.Chunk{Text: text}) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		p.send(ctx, ch, core.Chunk{Err: core.NewProviderError(p.Name(), http.StatusBadGateway, "stream interrupted: "+err.Error(), err)})
	}
}

// send delivers a chunk unless the exchange was cancelled. Returns false
// when the consumer is gone.
func (p *Provider) send(ctx context.Context, ch chan<- core.Chunk, chunk core.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// CountUsage computes token counts by deterministic tokenization of the
// concatenated input turn contents and the completion text, using the
// model's encoding with a generic fallback for unrecognized identifiers.
func (p *Provider) CountUsage(_ context.Context, req *core.CompletionRequest, completion string) (core.Usage, error) {
	encoding, err := tiktoken.EncodingForModel(req.Model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return core.Usage{}, core.NewAccountingError(p.Name(), "failed to load tokenizer: "+err.Error(), err)
		}
	}

	var inputTokens int
	for _, msg := range req.Messages {
		inputTokens += len(encoding.Encode(msg.Content, nil, nil))
	}
	outputTokens := len(encoding.Encode(completion, nil, nil))

	return core.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}

// ListModels retrieves the model identifiers OpenAI currently advertises.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), http.StatusBadGateway, "failed to list models: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), http.StatusBadGateway, "failed to read models response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseProviderError(p.Name(), resp.StatusCode, body, nil)
	}

	var ids []string
	for _, item := range gjson.GetBytes(body, "data.#.id").Array() {
		if id := item.String(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
