// Package provider implements the upstream provider adapters consumed by the
// routing controller.
package provider

import (
	"fmt"

	"github.com/zeroveil/gateway/internal/domain"
)

// Registry holds configured adapters by name.
type Registry struct {
	adapters map[string]domain.ProviderAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.ProviderAdapter)}
}

// Register adds an adapter. Registering a duplicate name is an operator
// configuration error.
func (r *Registry) Register(adapter domain.ProviderAdapter) error {
	name := adapter.Name()
	if _, dup := r.adapters[name]; dup {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (domain.ProviderAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
