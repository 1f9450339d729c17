// Package catalog holds static and inferred per-model metadata: which
// provider serves a model, what it costs, and which request parameters it
// accepts. Resolution is fallback-open: identifiers matching a known
// structural family resolve even when no explicit entry exists, so new model
// names keep working without a code change.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"llmrouter/internal/core"
)

// Provider names used across the gateway.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

//go:embed pricing.yaml
var pricingYAML []byte

// CapabilityProfile describes which request parameters a model accepts.
type CapabilityProfile struct {
	SupportsTemperature bool
	SupportsReasoning   bool
	ReasoningLevels     []string
}

// Pricing is the per-model cost in USD per 1K tokens.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Defaults holds the catalog-level default request parameters.
type Defaults struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Reasoning   string  `yaml:"reasoning" json:"reasoning"`
}

// modelMeta is one fallback entry from pricing.yaml.
type modelMeta struct {
	Name               string   `yaml:"name"`
	InputCost          float64  `yaml:"input_cost"`
	OutputCost         float64  `yaml:"output_cost"`
	SupportsReasoning  *bool    `yaml:"supports_reasoning"`
	ReasoningLevels    []string `yaml:"reasoning_levels"`
	SupportsTemperature *bool   `yaml:"supports_temperature"`
}

type pricingFile struct {
	Defaults  Defaults                        `yaml:"defaults"`
	Providers map[string]map[string]modelMeta `yaml:"providers"`
}

// Registry resolves models to providers, capabilities and pricing.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	defaults Defaults
	// provider name -> model id -> metadata
	fallback map[string]map[string]modelMeta
}

// NewRegistry parses the embedded fallback metadata.
func NewRegistry() (*Registry, error) {
	var file pricingFile
	if err := yaml.Unmarshal(pricingYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse embedded pricing data: %w", err)
	}
	return &Registry{
		defaults: file.Defaults,
		fallback: file.Providers,
	}, nil
}

// FallbackData returns the raw embedded metadata bytes. Used by the catalog
// cache to fingerprint snapshots.
func FallbackData() []byte {
	return pricingYAML
}

// Defaults returns the catalog-level default request parameters.
func (r *Registry) Defaults() Defaults {
	return r.defaults
}

// ResolveProvider classifies a model identifier into a provider name.
// Explicit registry entries win; otherwise structural family rules apply:
// "gpt-" prefixed and o-series (single letter followed by a digit)
// identifiers belong to OpenAI, "claude" prefixed identifiers to Anthropic.
// Returns an unknown-model error only when nothing matches.
func (r *Registry) ResolveProvider(model string) (string, error) {
	for provider, models := range r.fallback {
		if _, ok := models[model]; ok {
			return provider, nil
		}
	}

	switch {
	case strings.HasPrefix(model, "gpt-"), isOSeriesModel(model):
		return ProviderOpenAI, nil
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic, nil
	}

	return "", core.NewUnknownModelError(model)
}

// ResolveCapabilities returns the capability profile for a model: exact
// lookup first, then structural inference, then a permissive default
// (temperature allowed, reasoning unsupported) so unlisted identifiers
// remain usable.
func (r *Registry) ResolveCapabilities(model string) CapabilityProfile {
	provider, err := r.ResolveProvider(model)
	if err == nil {
		if meta, ok := r.fallback[provider][model]; ok {
			return capabilitiesFromMeta(provider, model, meta)
		}
	}
	return inferCapabilities(provider, model)
}

// Pricing returns the per-1K-token rates for a model, or zero rates when
// the model has no fallback entry.
func (r *Registry) Pricing(model string) Pricing {
	for _, models := range r.fallback {
		if meta, ok := models[model]; ok {
			return Pricing{InputPer1K: meta.InputCost, OutputPer1K: meta.OutputCost}
		}
	}
	return Pricing{}
}

// capabilitiesFromMeta merges an explicit fallback entry with structural
// inference: fields absent from the entry fall back to the inferred value.
func capabilitiesFromMeta(provider, model string, meta modelMeta) CapabilityProfile {
	inferred := inferCapabilities(provider, model)

	profile := inferred
	if meta.SupportsReasoning != nil {
		profile.SupportsReasoning = *meta.SupportsReasoning
	}
	if meta.ReasoningLevels != nil {
		profile.ReasoningLevels = meta.ReasoningLevels
	}
	if meta.SupportsTemperature != nil {
		profile.SupportsTemperature = *meta.SupportsTemperature
	}
	return profile
}

// inferCapabilities applies the structural family rules. Reasoning-capable
// OpenAI families (o-series, gpt-5) reject the temperature parameter and
// accept effort levels low/medium/high.
func inferCapabilities(provider, model string) CapabilityProfile {
	if provider == ProviderOpenAI && isReasoningFamily(model) {
		return CapabilityProfile{
			SupportsTemperature: false,
			SupportsReasoning:   true,
			ReasoningLevels:     []string{"low", "medium", "high"},
		}
	}
	return CapabilityProfile{SupportsTemperature: true}
}

// isOSeriesModel reports whether the model is an OpenAI o-series reasoning
// model (o1, o3, o4...). Non-reasoning models like gpt-4o start with "gpt-",
// not a bare letter-digit pair.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] >= 'a' && m[0] <= 'z' && m[1] >= '0' && m[1] <= '9'
}

// isReasoningFamily reports whether the model belongs to a family that takes
// a first-class reasoning effort parameter.
func isReasoningFamily(model string) bool {
	return isOSeriesModel(model) || strings.HasPrefix(model, "gpt-5")
}

// IsReasoningFamily is the exported form used by the OpenAI adapter to pick
// its wire dialect. The same structural rule drives capability inference so
// the two can never disagree.
func IsReasoningFamily(model string) bool {
	return isReasoningFamily(model)
}
