package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/orchestrator"
	"llmrouter/internal/store"
	"llmrouter/internal/usage"
)

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	orch        *orchestrator.Orchestrator
	store       store.Store
	registry    *catalog.Registry
	catalog     *catalog.Catalog
	usageReader usage.Reader
}

// NewHandler creates a handler over the orchestration core.
func NewHandler(orch *orchestrator.Orchestrator, st store.Store, registry *catalog.Registry, cat *catalog.Catalog, usageReader usage.Reader) *Handler {
	return &Handler{
		orch:        orch,
		store:       st,
		registry:    registry,
		catalog:     cat,
		usageReader: usageReader,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts router errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		err = core.NewNotFoundError("conversation not found")
	}

	var routerErr *core.RouterError
	if errors.As(err, &routerErr) {
		return c.JSON(routerErr.HTTPStatusCode(), routerErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
