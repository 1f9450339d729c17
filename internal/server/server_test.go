package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/orchestrator"
	"llmrouter/internal/store"
	"llmrouter/internal/usage"
)

// scriptedProvider implements core.Provider for handler tests.
type scriptedProvider struct {
	name      string
	chunks    []core.Chunk
	streamErr error
	usage     core.Usage
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Stream(_ context.Context, _ *core.CompletionRequest) (<-chan core.Chunk, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	ch := make(chan core.Chunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) CountUsage(_ context.Context, _ *core.CompletionRequest, _ string) (core.Usage, error) {
	return p.usage, nil
}

func (p *scriptedProvider) ListModels(_ context.Context) ([]string, error) {
	return []string{"gpt-4o"}, nil
}

// staticReader implements usage.Reader with fixed aggregates.
type staticReader struct {
	summary usage.Summary
	models  []usage.ModelUsage
}

func (r *staticReader) GetSummary(_ context.Context, _ usage.QueryParams) (*usage.Summary, error) {
	s := r.summary
	return &s, nil
}

func (r *staticReader) GetModelUsage(_ context.Context, _ usage.QueryParams) ([]usage.ModelUsage, error) {
	return r.models, nil
}

type testEnv struct {
	server *Server
	store  store.Store
}

func newTestEnv(t *testing.T, provider core.Provider, cfg *Config) *testEnv {
	t.Helper()

	reg, err := catalog.NewRegistry()
	require.NoError(t, err)

	st := store.NewMemoryStore()
	providers := map[string]core.Provider{"openai": provider}
	orch := orchestrator.New(reg, providers, st, nil)
	cat := catalog.NewCatalog(reg, providers, nil, 0)
	handler := NewHandler(orch, st, reg, cat, &staticReader{
		summary: usage.Summary{TotalRequests: 3, TotalInputTokens: 300, TotalOutputTokens: 150, TotalCost: 0.012345},
		models: []usage.ModelUsage{
			{Model: "gpt-4o", Provider: "openai", Requests: 3, InputTokens: 300, OutputTokens: 150, Cost: 0.012345},
		},
	})

	return &testEnv{server: New(handler, cfg), store: st}
}

// sseEvents parses the data lines of an SSE body into JSON objects.
func sseEvents(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &event))
		events = append(events, event)
	}
	return events
}

func TestStreamChatDeliversTokensAndDone(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		name:   "openai",
		chunks: []core.Chunk{{Text: "Hello"}, {Text: " world"}},
		usage:  core.Usage{InputTokens: 10, OutputTokens: 2},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"model":"gpt-4o","message":"say hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := sseEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)

	var tokens []string
	for _, e := range events[:len(events)-1] {
		token, ok := e["token"].(string)
		require.True(t, ok, "non-terminal event must be a token: %v", e)
		tokens = append(tokens, token)
	}
	assert.Equal(t, "Hello world", strings.Join(tokens, ""))

	terminal := events[len(events)-1]
	require.Equal(t, true, terminal["done"], "exactly one terminal event, last")
	assert.NotEmpty(t, terminal["conversation_id"])
	assert.NotEmpty(t, terminal["message_id"])
	assert.EqualValues(t, 10, terminal["input_tokens"])
	assert.EqualValues(t, 2, terminal["output_tokens"])

	// The exchange is persisted
	convID := terminal["conversation_id"].(string)
	conv, err := env.store.GetConversation(context.Background(), convID, DefaultDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "say hello", conv.Title)

	msgs, err := env.store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.StatusComplete, msgs[1].Status)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestStreamChatUnknownModelIsPlainHTTPError(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"model":"mistral-large","message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown_model_error", body["error"]["type"])
}

func TestStreamChatMissingMessage(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChatMidStreamErrorEndsWithErrorEvent(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		name: "openai",
		chunks: []core.Chunk{
			{Text: "partial"},
			{Err: core.NewProviderError("openai", 0, "upstream reset", nil)},
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"model":"gpt-4o","message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	env.server.ServeHTTP(rec, req)

	// Streaming already started, so the failure arrives in-band
	require.Equal(t, http.StatusOK, rec.Code)
	events := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)

	terminal := events[len(events)-1]
	assert.Equal(t, string(core.ErrorTypeProvider), terminal["error_type"])
	assert.Contains(t, terminal["error"], "upstream reset")

	var doneCount, errCount int
	for _, e := range events {
		if _, ok := e["done"]; ok {
			doneCount++
		}
		if _, ok := e["error"]; ok {
			errCount++
		}
	}
	assert.Zero(t, doneCount)
	assert.Equal(t, 1, errCount, "exactly one terminal event")
}

func TestSubmitChatReturnsAccepted(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		name:   "openai",
		chunks: []core.Chunk{{Text: "detached answer"}},
		usage:  core.Usage{InputTokens: 5, OutputTokens: 2},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/submit",
		strings.NewReader(`{"model":"gpt-4o","message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["conversation_id"])
	assert.NotEmpty(t, body["assistant_message_id"])

	// The assistant turn exists immediately, in pending or already
	// terminal state depending on goroutine timing.
	msg, err := env.store.GetMessage(context.Background(), body["assistant_message_id"])
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, msg.Role)
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	// Create
	req := httptest.NewRequest(http.MethodPost, "/api/conversations",
		strings.NewReader(`{"title":"my chat","system_prompt":"Be terse."}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "my chat", conv.Title)
	assert.Equal(t, "gpt-4o", conv.Model, "model defaults from the catalog")

	// Get
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Append system text
	req = httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/system",
		strings.NewReader(`{"text":"Answer in French."}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Be terse.\nAnswer in French.", updated.SystemPrompt)

	// Clone
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/clone", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var clone store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clone))
	assert.Equal(t, "my chat (copy)", clone.Title)
	assert.NotEqual(t, conv.ID, clone.ID)

	// List sees both
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Conversations, 2)

	// Delete
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations/"+conv.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationsScopedByDevice(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations",
		strings.NewReader(`{"title":"phone chat"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Device-ID", "phone")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	// Another device cannot see it
	getReq := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil)
	getReq.Header.Set("X-Device-ID", "laptop")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, getReq)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner can
	getReq = httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil)
	getReq.Header.Set("X-Device-ID", "phone")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, getReq)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsageSummary(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary usage.Summary      `json:"summary"`
		Models  []usage.ModelUsage `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Summary.TotalRequests)
	assert.Equal(t, 0.0123, body.Summary.TotalCost, "costs are rounded to 4 decimals")
	require.Len(t, body.Models, 1)
	assert.Equal(t, 0.0123, body.Models[0].Cost)

	// Device scope is accepted
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage/summary?scope=device", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unknown scope is rejected
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage/summary?scope=galaxy", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, &Config{MasterKey: "secret"})

	// Health stays public
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// API requires the key
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct key
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{name: "openai"}, nil)

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
