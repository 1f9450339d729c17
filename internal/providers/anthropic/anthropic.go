// Package anthropic provides the Anthropic adapter for the completion core.
//
// Anthropic takes system instructions as a separate top-level field and only
// accepts user/assistant turns in the message sequence: any system turn in
// the filtered history is stripped and merged into the top-level field,
// together with the reasoning directive when one is requested. Token
// accounting for this family is a documented approximation.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/httpclient"
	"llmrouter/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096

	// charsPerToken drives the accounting approximation: roughly four
	// characters of English text per token.
	charsPerToken = 4
)

func init() {
	providers.Register(catalog.ProviderAnthropic, func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for Anthropic.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// New creates a new Anthropic provider adapter.
func New(apiKey string) *Provider {
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: httpclient.NewDefaultHTTPClient(),
	}
}

// NewWithHTTPClient creates a new Anthropic provider with a custom HTTP client.
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
	return catalog.ProviderAnthropic
}

// messagesRequest is the Anthropic messages API wire format.
type messagesRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature,omitempty"`
	System      string         `json:"system,omitempty"`
	Stream      bool           `json:"stream"`
}

// buildBody converts a normalized request into the Anthropic wire format.
// System turns are collected into the top-level system field, newline
// joined, with the reasoning directive appended last.
func buildBody(req *core.CompletionRequest) *messagesRequest {
	body := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]core.Message, 0, len(req.Messages)),
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		body.Messages = append(body.Messages, msg)
	}
	if req.Reasoning != "" {
		system = append(system, core.ReasoningDirective(req.Reasoning).Content)
	}
	body.System = strings.Join(system, "\n")

	return body
}

// Stream executes the completion and emits text fragments as they arrive.
func (p *Provider) Stream(ctx context.Context, req *core.CompletionRequest) (<-chan core.Chunk, error) {
	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	p.setHeaders(httpReq)

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

// readStream parses Anthropic SSE events and forwards text deltas.
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

		switch gjson.Get(data, "type").String() {
		case "content_block_delta":
			text := gjson.Get(data, "delta.text").String()
			if text == "" {
				continue
			}
			if !p.send(ctx, ch, core.Chunk{Text: text}) {
				return
			}
		case "error":
			detail := gjson.Get(data, "error.message").String()
			p.send(ctx, ch, core.Chunk{Err: core.NewProviderError(p.Name(), http.StatusBadGateway, detail, nil)})
			return
		case "message_stop":
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		p.send(ctx, ch, core.Chunk{Err: core.NewProviderError(p.Name(), http.StatusBadGateway, "stream interrupted: "+err.Error(), err)})
	}
}

// send delivers a chunk unless the exchange was cancelled.
func (p *Provider) send(ctx context.Context, ch chan<- core.Chunk, chunk core.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// CountUsage approximates token counts: each turn contributes
// max(1, ceil(len/4)) input tokens, the completion max(1, ceil(len/4))
// output tokens. The result is flagged approximate so callers can
// distinguish it from exact accounting.
func (p *Provider) CountUsage(_ context.Context, req *core.CompletionRequest, completion string) (core.Usage, error) {
	var inputTokens int
	for _, msg := range req.Messages {
		inputTokens += approximateTokens(msg.Content)
	}

	return core.Usage{
		InputTokens:  inputTokens,
		OutputTokens: approximateTokens(completion),
		Approximate:  true,
	}, nil
}

// approximateTokens estimates the token count of a text, never below one.
func approximateTokens(text string) int {
	tokens := (len(text) + charsPerToken - 1) / charsPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// ListModels retrieves the model identifiers Anthropic currently advertises.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if p.apiKey == "" {
		return nil, core.NewProviderError(p.Name(), http.StatusBadGateway, "no API key configured", nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	p.setHeaders(httpReq)

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

// setHeaders sets the required headers for Anthropic API requests.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}
