// Package providers holds the provider factory. Concrete adapters
// self-register from their package init so the wiring code only deals with
// provider names from configuration.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"llmrouter/internal/core"
)

// Config holds the per-provider settings needed to construct an adapter.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint. Used by tests
	// to point adapters at a fake upstream.
	BaseURL string
}

// Factory creates a provider adapter from its configuration.
type Factory func(cfg Config) (core.Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a provider factory under the given name. Called from adapter
// package init; a duplicate name panics since it is a programming error.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic("provider already registered: " + name)
	}
	factories[name] = factory
}

// New constructs the named provider adapter.
func New(name string, cfg Config) (core.Provider, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (registered: %v)", name, Registered())
	}
	return factory(cfg)
}

// Registered returns the sorted list of registered provider names.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
