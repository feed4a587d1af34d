// Package registry provides a name-keyed registry with conflict detection.
// Entries are registered once at startup and looked up by name afterwards.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps unique names to values.
type Registry[T any] struct {
	mu sync.RWMutex

	// entries by name
	entries map[string]T

	// registration order
	order []string
}

// New creates a new registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// Register adds value under name.
// Returns an error if the name is empty or already registered.
func (r *Registry[T]) Register(name string, value T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return &ConflictError{Name: name}
	}

	r.entries[name] = value
	r.order = append(r.order, name)
	return nil
}

// Unregister removes an entry.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return fmt.Errorf("%q not registered", name)
	}

	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a registered entry by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[name]
	return v, ok
}

// Names returns every registered name, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every entry sorted by name.
func (r *Registry[T]) List() []T {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	values := make([]T, 0, len(names))
	for _, name := range names {
		if v, ok := r.entries[name]; ok {
			values = append(values, v)
		}
	}
	return values
}

// Ordered returns every entry in registration order.
func (r *Registry[T]) Ordered() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	values := make([]T, 0, len(r.order))
	for _, name := range r.order {
		values = append(values, r.entries[name])
	}
	return values
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ConflictError is returned when a name is registered twice.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%q already registered", e.Name)
}
