package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"llmrouter/internal/core"
	"llmrouter/internal/store"
)

type createConversationRequest struct {
	Title        string `json:"title"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

type systemPromptRequest struct {
	Text string `json:"text"`
}

// ListConversations handles GET /api/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.store.ListConversations(c.Request().Context(), DeviceID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

// CreateConversation handles POST /api/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	model := req.Model
	if model == "" {
		model = h.registry.Defaults().Model
	}
	if _, err := h.registry.ResolveProvider(model); err != nil {
		return handleError(c, err)
	}

	conv := store.NewConversation(req.Title, model, strings.TrimSpace(req.SystemPrompt), DeviceID(c))
	if err := h.store.CreateConversation(c.Request().Context(), conv); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// GetConversation handles GET /api/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()

	conv, err := h.store.GetConversation(ctx, c.Param("id"), DeviceID(c))
	if err != nil {
		return handleError(c, err)
	}

	msgs, err := h.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

// DeleteConversation handles DELETE /api/conversations/:id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.store.DeleteConversation(c.Request().Context(), c.Param("id"), DeviceID(c)); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CloneConversation handles POST /api/conversations/:id/clone
func (h *Handler) CloneConversation(c echo.Context) error {
	clone, err := store.Clone(c.Request().Context(), h.store, c.Param("id"), DeviceID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, clone)
}

// AppendSystemPrompt handles POST /api/conversations/:id/system.
// The text is merged into the conversation's accumulated system prompt.
func (h *Handler) AppendSystemPrompt(c echo.Context) error {
	var req systemPromptRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if strings.TrimSpace(req.Text) == "" {
		return handleError(c, core.NewInvalidRequestError("text is required", nil))
	}

	ctx := c.Request().Context()
	conv, err := h.store.GetConversation(ctx, c.Param("id"), DeviceID(c))
	if err != nil {
		return handleError(c, err)
	}

	conv.SystemPrompt = store.AppendSystemText(conv.SystemPrompt, req.Text)
	conv.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateConversation(ctx, conv); err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, conv)
}
