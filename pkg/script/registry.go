package script

import (
	"path/filepath"
	"sort"
	"sync"
)

// Registry owns the units of a host process, keyed by resolved file path.
// The registry lock only guards the map; each unit synchronizes its own
// preprocessing and compilation.
type Registry struct {
	opts  Options
	mu    sync.Mutex
	units map[string]*Unit
}

// NewRegistry returns an empty registry whose units share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, units: make(map[string]*Unit)}
}

// Unit returns the unit for path, creating it on first request.
func (r *Registry) Unit(path string) *Unit {
	path = filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[path]
	if !ok {
		u = NewUnit(path, r.opts)
		r.units[path] = u
	}
	return u
}

// Lookup returns the unit for path if one exists.
func (r *Registry) Lookup(path string) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[filepath.Clean(path)]
	return u, ok
}

// Units returns every unit ordered by path.
func (r *Registry) Units() []*Unit {
	r.mu.Lock()
	out := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Len returns the number of units.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}
