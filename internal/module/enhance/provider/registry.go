package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured providers by type.
type Registry struct {
	mu        sync.RWMutex
	providers map[Type]Provider
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Type]Provider),
	}
}

// Register registers a provider, replacing any previous one of the same type.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get returns the provider for a type.
func (r *Registry) Get(t Type) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("no enhancement provider for type: %s", t)
	}
	return p, nil
}

// SupportedTypes returns the registered provider types in sorted order.
func (r *Registry) SupportedTypes() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Type, 0, len(r.providers))
	for t := range r.providers {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
