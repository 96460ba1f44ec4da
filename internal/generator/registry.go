package generator

import (
	"slices"
	"strings"
	"sync"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
)

type registration struct {
	descriptor Descriptor
	factory    Factory
}

// Registry holds explicitly registered generators. Lookups ignore case.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a generator. Empty and duplicate names are rejected.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return ferrors.ValidationError("generator name is required").Build()
	}
	if factory == nil {
		return ferrors.ValidationError("generator factory is required").
			WithContext("generator", name).Build()
	}
	desc.Name = name
	desc.After = slices.Clone(desc.After)
	desc.Before = slices.Clone(desc.Before)

	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalize(name)
	if existing, ok := r.entries[key]; ok {
		return ferrors.ValidationError("generator already registered").
			WithContext("generator", name).
			WithContext("existing", existing.descriptor.Name).Build()
	}
	r.entries[key] = registration{descriptor: desc, factory: factory}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(desc Descriptor, factory Factory) {
	if err := r.Register(desc, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor and factory registered under name.
func (r *Registry) Lookup(name string) (Descriptor, Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(name)]
	return e.descriptor, e.factory, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, _, ok := r.Lookup(name)
	return ok
}

// Descriptors returns every registered descriptor sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor)
	}
	slices.SortFunc(out, func(a, b Descriptor) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Select returns the descriptors for names, in the given order. Unknown
// names are returned separately. An empty names list selects everything.
func (r *Registry) Select(names []string) ([]Descriptor, []string) {
	if len(names) == 0 {
		return r.Descriptors(), nil
	}
	var found []Descriptor
	var missing []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[normalize(n)] {
			continue
		}
		seen[normalize(n)] = true
		if d, _, ok := r.Lookup(n); ok {
			found = append(found, d)
		} else {
			missing = append(missing, n)
		}
	}
	return found, missing
}

// Len returns the number of registered generators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
