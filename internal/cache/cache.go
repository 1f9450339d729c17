// Package cache provides a cache abstraction for the model catalog.
// Supports both local file and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// CatalogCache is the cached catalog snapshot. Fingerprint is the xxhash of
// the embedded fallback pricing data that produced it; a snapshot written by
// a binary with different fallback data is treated as stale.
type CatalogCache struct {
	Version     int           `json:"version"`
	Fingerprint uint64        `json:"fingerprint"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Models      []CachedModel `json:"models"`
}

// CachedModel represents a single cached catalog entry.
type CachedModel struct {
	ModelID       string   `json:"model_id"`
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	InputCost     float64  `json:"input_cost"`
	OutputCost    float64  `json:"output_cost"`
	Source        string   `json:"source"`
	PricingSource string   `json:"pricing_source"`
	Reasoning     bool     `json:"supports_reasoning"`
	Levels        []string `json:"reasoning_levels,omitempty"`
	Temperature   bool     `json:"supports_temperature"`
}

// Cache defines the interface for catalog cache storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the cached catalog snapshot.
	// Returns nil, nil if no cache exists yet.
	Get(ctx context.Context) (*CatalogCache, error)

	// Set stores the catalog snapshot.
	Set(ctx context.Context, snapshot *CatalogCache) error

	// Close releases any resources held by the cache.
	Close() error
}
