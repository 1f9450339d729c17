package usage

import "llmrouter/internal/catalog"

// Cost computes the dollar cost of a completion from token counts and the
// model's per-1K rates:
//
//	(inputTokens / 1000) * InputPer1K + (outputTokens / 1000) * OutputPer1K
//
// Models without pricing data cost zero.
func Cost(pricing catalog.Pricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*pricing.InputPer1K +
		float64(outputTokens)/1000*pricing.OutputPer1K
}
