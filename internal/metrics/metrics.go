// Package metrics holds the Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_completions_total",
			Help: "Total number of completion exchanges by model, provider and terminal status",
		},
		[]string{"model", "provider", "status"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_tokens_total",
			Help: "Total number of tokens accounted by model and direction",
		},
		[]string{"model", "direction"},
	)

	staleSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrouter_stale_pending_swept_total",
			Help: "Total number of orphaned pending assistant turns marked as error by the sweeper",
		},
	)
)

// RecordCompletion counts a finished exchange.
func RecordCompletion(model, provider, status string) {
	completionsTotal.WithLabelValues(model, provider, status).Inc()
}

// RecordTokens counts accounted tokens for a finished exchange.
func RecordTokens(model string, inputTokens, outputTokens int) {
	tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// RecordStaleSweep counts assistant turns reconciled by the sweeper.
func RecordStaleSweep(count int) {
	staleSweptTotal.Add(float64(count))
}
