package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// ErrProviderNotRegistered means no factory exists for a provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a provider from its configuration entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps the provider names used in the YAML file to factories. The
// binary fills it at startup; tests register mocks under the same names.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]LLMFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]LLMFactory{}}
}

// RegisterLLM installs factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// CreateLLM builds the provider described by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory := r.factories[entry.Name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrProviderNotRegistered, entry.Name, r.LLMNames())
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create %q provider: %w", entry.Name, err)
	}
	return p, nil
}

// LLMNames returns the registered names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
