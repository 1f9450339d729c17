package usage

import "context"

// QueryParams scopes a usage query.
type QueryParams struct {
	// DeviceID limits results to a single device when non-empty.
	DeviceID string
}

// Summary holds aggregated usage statistics.
type Summary struct {
	TotalRequests     int     `json:"total_requests"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCost         float64 `json:"total_cost"`
}

// ModelUsage holds usage statistics for a single model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	Requests     int     `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Reader provides read access to usage data.
type Reader interface {
	// GetSummary returns aggregated usage statistics.
	GetSummary(ctx context.Context, params QueryParams) (*Summary, error)

	// GetModelUsage returns usage statistics grouped by model,
	// ordered by cost descending.
	GetModelUsage(ctx context.Context, params QueryParams) ([]ModelUsage, error)
}
