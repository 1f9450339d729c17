package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"llmrouter/internal/core"
	"llmrouter/internal/orchestrator"
	"llmrouter/internal/store"
)

// titleLimit caps auto-derived conversation titles.
const titleLimit = 50

type chatRequest struct {
	ConversationID string   `json:"conversation_id"`
	Model          string   `json:"model"`
	Message        string   `json:"message"`
	Temperature    *float64 `json:"temperature"`
	Reasoning      string   `json:"reasoning"`
}

// StreamChat handles POST /api/chat/stream.
//
// The response is an SSE stream: one {"token": s} event per fragment,
// closed by exactly one terminal event, either {"done": ...} or
// {"error": ...}. Failures before the stream opens surface as plain HTTP
// errors; once streaming begins the terminal event is the only error path.
func (h *Handler) StreamChat(c echo.Context) error {
	ex, err := h.prepareExchange(c)
	if err != nil {
		return handleError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	result := h.orch.Run(c.Request().Context(), ex, func(text string) error {
		return writeEvent(c, map[string]interface{}{"token": text})
	})

	if result.Status == core.StatusError {
		// The client may already be gone; a failed write here is fine.
		_ = writeEvent(c, map[string]interface{}{
			"error":      result.ErrorDetail,
			"error_type": string(result.ErrorType),
		})
		return nil
	}

	_ = writeEvent(c, map[string]interface{}{
		"done":            true,
		"conversation_id": ex.Conversation.ID,
		"message_id":      ex.Assistant.ID,
		"cost":            result.Cost,
		"input_tokens":    result.InputTokens,
		"output_tokens":   result.OutputTokens,
		"approximate":     result.TokensApproximate,
	})
	return nil
}

// SubmitChat handles POST /api/chat/submit. The completion runs detached;
// the response identifies the pending assistant turn for later polling.
func (h *Handler) SubmitChat(c echo.Context) error {
	ex, err := h.prepareExchange(c)
	if err != nil {
		return handleError(c, err)
	}

	h.orch.RunDetached(ex)

	return c.JSON(http.StatusAccepted, map[string]string{
		"conversation_id":      ex.Conversation.ID,
		"assistant_message_id": ex.Assistant.ID,
	})
}

// prepareExchange validates the chat request, loads or creates the target
// conversation, and persists the user turn plus the pending assistant turn.
// Everything that can fail with a plain HTTP error happens here, before any
// streaming starts.
func (h *Handler) prepareExchange(c echo.Context) (*orchestrator.Exchange, error) {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return nil, core.NewInvalidRequestError("invalid request body: "+err.Error(), err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, core.NewInvalidRequestError("message is required", nil)
	}

	ctx := c.Request().Context()
	deviceID := DeviceID(c)

	var conv *store.Conversation
	if req.ConversationID != "" {
		var err error
		conv, err = h.store.GetConversation(ctx, req.ConversationID, deviceID)
		if err != nil {
			return nil, err
		}
	} else {
		model := req.Model
		if model == "" {
			model = h.registry.Defaults().Model
		}
		// Unknown models are rejected here, while a plain HTTP error is
		// still possible.
		if _, err := h.registry.ResolveProvider(model); err != nil {
			return nil, err
		}
		conv = store.NewConversation(deriveTitle(req.Message), model, "", deviceID)
		if err := h.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
	}

	if _, err := h.registry.ResolveProvider(conv.Model); err != nil {
		return nil, err
	}

	userMsg := store.NewMessage(conv.ID, core.RoleUser, req.Message)
	if err := h.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	assistant := store.NewMessage(conv.ID, core.RoleAssistant, "")
	assistant.Status = core.StatusPending
	assistant.Model = conv.Model
	assistant.Temperature = req.Temperature
	assistant.Reasoning = req.Reasoning
	if err := h.store.AppendMessage(ctx, assistant); err != nil {
		return nil, err
	}

	return &orchestrator.Exchange{
		Conversation: conv,
		Assistant:    assistant,
		DeviceID:     deviceID,
		Temperature:  req.Temperature,
		Reasoning:    req.Reasoning,
	}, nil
}

// deriveTitle builds a conversation title from the first user message.
func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	runes := []rune(title)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return title
}

// writeEvent marshals one SSE data event and flushes it to the client.
func writeEvent(c echo.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
