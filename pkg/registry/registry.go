// Package registry maps component type names to builders. Connectors,
// extractors and loaders each keep one registry so pipelines can be
// assembled from configuration.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// Builder creates a component instance from its options.
type Builder[O, T any] func(opts O) (T, error)

// Registry manages component registration and instantiation
type Registry[O, T any] struct {
	kind     string
	builders map[string]Builder[O, T]
	mu       sync.RWMutex
}

// New creates a registry for components of the given kind ("connector",
// "extractor", ...). The kind only appears in error messages.
func New[O, T any](kind string) *Registry[O, T] {
	return &Registry[O, T]{
		kind:     kind,
		builders: make(map[string]Builder[O, T]),
	}
}

// Register adds a builder under name
func (r *Registry[O, T]) Register(name string, b Builder[O, T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("%s %s already registered", r.kind, name))
	}

	r.builders[name] = b
	return nil
}

// MustRegister is Register for package initialization; it panics on a
// duplicate name.
func (r *Registry[O, T]) MustRegister(name string, b Builder[O, T]) {
	if err := r.Register(name, b); err != nil {
		panic(err)
	}
}

// Lookup binds opts to the builder registered under name. The returned
// function creates a fresh instance on every call.
func (r *Registry[O, T]) Lookup(name string, opts O) (func() (T, error), error) {
	r.mu.RLock()
	b, exists := r.builders[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("%s type %q not found", r.kind, name))
	}

	return func() (T, error) {
		v, err := b(opts)
		if err != nil {
			var zero T
			return zero, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create %s %s", r.kind, name))
		}
		return v, nil
	}, nil
}

// List returns the registered names, sorted
func (r *Registry[O, T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if name is registered
func (r *Registry[O, T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.builders[name]
	return exists
}
