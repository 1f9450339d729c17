package anthropic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmrouter/internal/core"
)

func TestNew(t *testing.T) {
	provider := New("test-api-key")

	if provider.apiKey != "test-api-key" {
		t.Errorf("apiKey = %q, want %q", provider.apiKey, "test-api-key")
	}
	if provider.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", provider.Name())
	}
}

func TestBuildBodyMergesSystemTurns(t *testing.T) {
	req := &core.CompletionRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "Be terse."},
			{Role: core.RoleUser, Content: "hello"},
			{Role: core.RoleAssistant, Content: "hi"},
		},
		Reasoning: "high",
	}

	body := buildBody(req)

	if body.System != "Be terse.\nReasoning level: high." {
		t.Errorf("system = %q", body.System)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 non-system messages, got %d", len(body.Messages))
	}
	for _, m := range body.Messages {
		if m.Role == core.RoleSystem {
			t.Errorf("system turn leaked into message sequence: %+v", m)
		}
	}
	if body.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d", body.MaxTokens)
	}
}

func TestBuildBodyNoSystemNoReasoning(t *testing.T) {
	body := buildBody(&core.CompletionRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hello"}},
	})

	if body.System != "" {
		t.Errorf("system should be empty, got %q", body.System)
	}
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "test-key" {
			t.Errorf("unexpected api key header %q", key)
		}
		if version := r.Header.Get("anthropic-version"); version != apiVersion {
			t.Errorf("unexpected version header %q", version)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"message_start"}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"text":"Bon"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"text":"jour"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer server.Close()

	provider := New("test-key")
	provider.SetBaseURL(server.URL)

	ch, err := provider.Stream(context.Background(), &core.CompletionRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text string
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		text += chunk.Text
	}
	if text != "Bonjour" {
		t.Errorf("text = %q, want Bonjour", text)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"text":"partial"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"error","error":{"message":"overloaded"}}`+"\n\n")
	}))
	defer server.Close()

	provider := New("test-key")
	provider.SetBaseURL(server.URL)

	ch, err := provider.Stream(context.Background(), &core.CompletionRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text string
	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		text += chunk.Text
	}
	if text != "partial" {
		t.Errorf("text before failure = %q", text)
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "overloaded") {
		t.Errorf("terminal error = %v", streamErr)
	}
}

func TestStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"max_tokens required"}}`)
	}))
	defer server.Close()

	provider := New("test-key")
	provider.SetBaseURL(server.URL)

	ch, err := provider.Stream(context.Background(), &core.CompletionRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected pre-stream error")
	}
	if ch != nil {
		t.Error("channel must be nil on pre-stream failure")
	}
}

func TestCountUsageApproximation(t *testing.T) {
	provider := New("test-key")

	tests := []struct {
		name       string
		messages   []core.Message
		completion string
		wantInput  int
		wantOutput int
	}{
		{
			name:       "rounds up per turn",
			messages:   []core.Message{{Role: core.RoleUser, Content: "abcde"}}, // 5 chars -> 2
			completion: "abcdefgh",                                              // 8 chars -> 2
			wantInput:  2,
			wantOutput: 2,
		},
		{
			name: "minimum one token per turn",
			messages: []core.Message{
				{Role: core.RoleUser, Content: "a"},
				{Role: core.RoleAssistant, Content: "b"},
			},
			completion: "",
			wantInput:  2,
			wantOutput: 1,
		},
		{
			name:       "exact multiple",
			messages:   []core.Message{{Role: core.RoleUser, Content: "abcdefgh"}}, // 8 chars -> 2
			completion: "abcd",                                                     // 4 chars -> 1
			wantInput:  2,
			wantOutput: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := provider.CountUsage(context.Background(), &core.CompletionRequest{
				Model:    "claude-3-5-sonnet-20241022",
				Messages: tt.messages,
			}, tt.completion)
			if err != nil {
				t.Fatalf("count usage: %v", err)
			}
			if u.InputTokens != tt.wantInput {
				t.Errorf("input tokens = %d, want %d", u.InputTokens, tt.wantInput)
			}
			if u.OutputTokens != tt.wantOutput {
				t.Errorf("output tokens = %d, want %d", u.OutputTokens, tt.wantOutput)
			}
			if !u.Approximate {
				t.Error("approximation must be flagged")
			}
		})
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"claude-3-5-sonnet-20241022"},{"id":"claude-3-5-haiku-20241022"}]}`)
	}))
	defer server.Close()

	provider := New("test-key")
	provider.SetBaseURL(server.URL)

	ids, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v", ids)
	}
}
