package catalog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"llmrouter/internal/cache"
	"llmrouter/internal/core"
)

// ModelInfo is one entry in the published model catalog.
type ModelInfo struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Provider            string   `json:"provider"`
	InputCost           float64  `json:"input_cost"`
	OutputCost          float64  `json:"output_cost"`
	Source              string   `json:"source"`
	PricingSource       string   `json:"pricing_source"`
	SupportsReasoning   bool     `json:"supports_reasoning"`
	ReasoningLevels     []string `json:"reasoning_levels"`
	SupportsTemperature bool     `json:"supports_temperature"`
}

// ModelCatalog is the full catalog response: defaults plus model list.
type ModelCatalog struct {
	Defaults Defaults    `json:"defaults"`
	Models   []ModelInfo `json:"models"`
}

// Catalog publishes the merged live+fallback model list. Live listings come
// from each provider's models endpoint; a snapshot is cached so a provider
// outage does not empty the catalog.
type Catalog struct {
	registry  *Registry
	providers map[string]core.Provider
	cache     cache.Cache
	ttl       time.Duration
}

// NewCatalog creates a catalog over the given registry and provider set.
// cache may be nil; the catalog then always fetches live.
func NewCatalog(registry *Registry, providers map[string]core.Provider, c cache.Cache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Catalog{
		registry:  registry,
		providers: providers,
		cache:     c,
		ttl:       ttl,
	}
}

// fingerprint identifies the embedded fallback data a snapshot was built
// from. Snapshots from a binary with different fallback data are discarded.
func fingerprint() uint64 {
	return xxhash.Sum64(FallbackData())
}

// List returns the current model catalog. A fresh cached snapshot is served
// as-is; otherwise live model lists are fetched, merged with fallback
// metadata and the snapshot is re-cached.
func (c *Catalog) List(ctx context.Context) (*ModelCatalog, error) {
	if c.cache != nil {
		snapshot, err := c.cache.Get(ctx)
		if err != nil {
			slog.Warn("catalog cache read failed", "error", err)
		} else if snapshot != nil && snapshot.Fingerprint == fingerprint() && time.Since(snapshot.UpdatedAt) < c.ttl {
			return c.fromSnapshot(snapshot), nil
		}
	}

	models := c.buildLive(ctx)

	if c.cache != nil {
		snapshot := &cache.CatalogCache{
			Version:     1,
			Fingerprint: fingerprint(),
			UpdatedAt:   time.Now().UTC(),
			Models:      toCached(models),
		}
		if err := c.cache.Set(ctx, snapshot); err != nil {
			slog.Warn("catalog cache write failed", "error", err)
		}
	}

	return &ModelCatalog{Defaults: c.registry.Defaults(), Models: models}, nil
}

// buildLive fetches live model lists and merges them with fallback metadata.
func (c *Catalog) buildLive(ctx context.Context) []ModelInfo {
	var models []ModelInfo
	for _, provider := range []string{ProviderOpenAI, ProviderAnthropic} {
		p, ok := c.providers[provider]
		var live []string
		if ok {
			ids, err := p.ListModels(ctx)
			if err != nil {
				slog.Warn("failed to fetch live models", "provider", provider, "error", err)
			} else {
				live = ids
			}
		}
		models = append(models, c.merge(provider, live)...)
	}
	return models
}

// merge combines a provider's live model list with its fallback entries.
// Live identifiers outside the provider's naming families are dropped (the
// OpenAI models endpoint also lists embeddings, TTS and moderation models).
// Fallback entries absent from the live list are appended so pricing-known
// models stay selectable during provider listing outages.
func (c *Catalog) merge(provider string, live []string) []ModelInfo {
	fallback := c.registry.fallback[provider]

	var models []ModelInfo
	liveSet := make(map[string]bool, len(live))
	sorted := append([]string(nil), live...)
	sort.Strings(sorted)

	for _, id := range sorted {
		if liveSet[id] {
			continue
		}
		liveSet[id] = true
		if !matchesFamily(provider, id) {
			continue
		}

		info := ModelInfo{
			ID:            id,
			Name:          id,
			Provider:      provider,
			Source:        "live",
			PricingSource: "unknown",
		}
		if meta, ok := fallback[id]; ok {
			info.Name = meta.Name
			info.InputCost = meta.InputCost
			info.OutputCost = meta.OutputCost
			info.PricingSource = "fallback"
		}
		profile := c.registry.ResolveCapabilities(id)
		info.SupportsReasoning = profile.SupportsReasoning
		info.ReasoningLevels = profile.ReasoningLevels
		info.SupportsTemperature = profile.SupportsTemperature
		models = append(models, info)
	}

	fallbackIDs := make([]string, 0, len(fallback))
	for id := range fallback {
		fallbackIDs = append(fallbackIDs, id)
	}
	sort.Strings(fallbackIDs)
	for _, id := range fallbackIDs {
		if liveSet[id] {
			continue
		}
		meta := fallback[id]
		profile := c.registry.ResolveCapabilities(id)
		models = append(models, ModelInfo{
			ID:                  id,
			Name:                meta.Name,
			Provider:            provider,
			InputCost:           meta.InputCost,
			OutputCost:          meta.OutputCost,
			Source:              "fallback",
			PricingSource:       "fallback",
			SupportsReasoning:   profile.SupportsReasoning,
			ReasoningLevels:     profile.ReasoningLevels,
			SupportsTemperature: profile.SupportsTemperature,
		})
	}

	return models
}

// matchesFamily reports whether a live model identifier belongs to the
// provider's chat-model naming families.
func matchesFamily(provider, id string) bool {
	switch provider {
	case ProviderOpenAI:
		return strings.HasPrefix(id, "gpt-") || isOSeriesModel(id)
	case ProviderAnthropic:
		return strings.HasPrefix(id, "claude")
	}
	return false
}

// fromSnapshot rebuilds a catalog response from a cached snapshot.
func (c *Catalog) fromSnapshot(snapshot *cache.CatalogCache) *ModelCatalog {
	models := make([]ModelInfo, 0, len(snapshot.Models))
	for _, m := range snapshot.Models {
		models = append(models, ModelInfo{
			ID:                  m.ModelID,
			Name:                m.Name,
			Provider:            m.Provider,
			InputCost:           m.InputCost,
			OutputCost:          m.OutputCost,
			Source:              m.Source,
			PricingSource:       m.PricingSource,
			SupportsReasoning:   m.Reasoning,
			ReasoningLevels:     m.Levels,
			SupportsTemperature: m.Temperature,
		})
	}
	return &ModelCatalog{Defaults: c.registry.Defaults(), Models: models}
}

// toCached converts catalog entries to their cache representation.
func toCached(models []ModelInfo) []cache.CachedModel {
	cached := make([]cache.CachedModel, 0, len(models))
	for _, m := range models {
		cached = append(cached, cache.CachedModel{
			ModelID:       m.ID,
			Name:          m.Name,
			Provider:      m.Provider,
			InputCost:     m.InputCost,
			OutputCost:    m.OutputCost,
			Source:        m.Source,
			PricingSource: m.PricingSource,
			Reasoning:     m.SupportsReasoning,
			Levels:        m.ReasoningLevels,
			Temperature:   m.SupportsTemperature,
		})
	}
	return cached
}
