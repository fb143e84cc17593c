package adapter

import (
	"fmt"
	"sync"

	"github.com/hyperengineering/synccore/internal/model"
)

// Registry holds the adapters a Sync Engine instance knows about, keyed by
// source type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Source]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.Source]Adapter)}
}

// Register adds an adapter to the registry. Panics if an adapter for the
// same source type is already registered — adapters are registered during
// engine construction, never dynamically at request time.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := a.Type()
	if _, exists := r.adapters[t]; exists {
		panic(fmt.Sprintf("adapter already registered for source: %s", t))
	}
	r.adapters[t] = a
}

// Get returns the adapter for the given source, and whether it was found.
func (r *Registry) Get(source model.Source) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[source]
	return a, ok
}

// MustGet returns the adapter for the given source, panicking if absent.
func (r *Registry) MustGet(source model.Source) Adapter {
	a, ok := r.Get(source)
	if !ok {
		panic("no adapter registered for source: " + string(source))
	}
	return a
}

// Sources returns the registered source types.
func (r *Registry) Sources() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]model.Source, 0, len(r.adapters))
	for s := range r.adapters {
		sources = append(sources, s)
	}
	return sources
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		all = append(all, a)
	}
	return all
}
