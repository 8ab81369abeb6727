package radio

import (
	"maps"
	"slices"
	"sync"
)

// Factory builds the engine of a new session.
type Factory func(key string) *Engine

// Registry maps session keys to engines, creating them on first use.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for key, creating it if needed.
func (r *Registry) Get(key string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[key]; ok {
		return e
	}
	e := r.factory(key)
	r.engines[key] = e
	return e
}

// Lookup returns the engine for key without creating one.
func (r *Registry) Lookup(key string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[key]
	return e, ok
}

// Keys returns the known session keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.engines))
}

// Close closes every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := slices.Collect(maps.Values(r.engines))
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Close()
		}()
	}
	wg.Wait()
}
