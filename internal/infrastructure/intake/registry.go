// Package intake collects the roster sources the allocator can load
// snapshots from and picks one by name.
package intake

import (
	"fmt"
	"sort"

	"KidneyAllocation/internal/ports"
)

// Registry keeps a mapping from source names to their implementations.
type Registry struct {
	sources map[string]ports.RosterSource
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]ports.RosterSource{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(source ports.RosterSource) {
	if source == nil {
		return
	}
	if r.sources == nil {
		r.sources = map[string]ports.RosterSource{}
	}
	r.sources[source.Name()] = source
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.RosterSource, error) {
	if source, ok := r.sources[name]; ok {
		return source, nil
	}
	return nil, fmt.Errorf("roster source %q is not registered (have %v)", name, r.Names())
}

// Names lists registered sources alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
