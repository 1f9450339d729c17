package server

import (
	"math"
	"net/http"

	"github.com/labstack/echo/v4"

	"llmrouter/internal/core"
	"llmrouter/internal/usage"
)

// UsageSummary handles GET /api/usage/summary?scope=overall|device.
// Device scope limits the aggregation to the requesting device.
func (h *Handler) UsageSummary(c echo.Context) error {
	scope := c.QueryParam("scope")
	params := usage.QueryParams{}
	switch scope {
	case "", "overall":
	case "device":
		params.DeviceID = DeviceID(c)
	default:
		return handleError(c, core.NewInvalidRequestError("invalid scope: "+scope+" (want overall or device)", nil))
	}

	ctx := c.Request().Context()

	summary, err := h.usageReader.GetSummary(ctx, params)
	if err != nil {
		return handleError(c, err)
	}
	models, err := h.usageReader.GetModelUsage(ctx, params)
	if err != nil {
		return handleError(c, err)
	}

	summary.TotalCost = roundCost(summary.TotalCost)
	for i := range models {
		models[i].Cost = roundCost(models[i].Cost)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"summary": summary,
		"models":  models,
	})
}

// ListModels handles GET /api/usage/models: the live model catalog merged
// with fallback pricing metadata.
func (h *Handler) ListModels(c echo.Context) error {
	cat, err := h.catalog.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, cat)
}

// roundCost rounds dollar amounts to 4 decimals for display.
func roundCost(v float64) float64 {
	return math.Round(v*10000) / 10000
}
