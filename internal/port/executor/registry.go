package executor

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves providers by name. Agents carry a provider name; a
// fallback provider serves names without a dedicated registration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register makes a provider available by name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("executor: duplicate registration for %q", name))
	}
	r.providers[name] = p
}

// SetFallback names the provider used for unregistered names.
func (r *Registry) SetFallback(name string) {
	r.mu.Lock()
	r.fallback = name
	r.mu.Unlock()
}

// Provider returns the provider registered under name, or the fallback.
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if p, ok := r.providers[r.fallback]; ok && r.fallback != "" {
		return p, nil
	}
	return nil, fmt.Errorf("executor: unknown provider %q", name)
}

// Available returns the registered provider names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
