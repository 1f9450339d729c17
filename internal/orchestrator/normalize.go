package orchestrator

import (
	"fmt"
	"slices"

	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
)

// Normalize reconciles requested parameters against the model's capability
// profile. Temperature is dropped silently for models that reject it and
// defaulted from the catalog otherwise. A reasoning level is passed through
// for every model (adapters decide how to express it), but an explicit level
// outside the model's advertised set is rejected.
func Normalize(reg *catalog.Registry, model string, temperature *float64, reasoning string) (*float64, string, error) {
	caps := reg.ResolveCapabilities(model)

	if reasoning != "" && len(caps.ReasoningLevels) > 0 && !slices.Contains(caps.ReasoningLevels, reasoning) {
		return nil, "", core.NewInvalidRequestError(
			fmt.Sprintf("model %q does not support reasoning level %q (supported: %v)", model, reasoning, caps.ReasoningLevels),
			nil,
		)
	}

	if !caps.SupportsTemperature {
		return nil, reasoning, nil
	}

	if temperature == nil {
		def := reg.Defaults().Temperature
		if def > 0 {
			temperature = &def
		}
	}

	return temperature, reasoning, nil
}
