package script

import (
	"fmt"
	"sync"

	"github.com/sambeau/sorrel/pkg/source"
)

// LiteralsName is the variable holding a page's literal table.
const LiteralsName = "__literals"

// Environment maps variable names to the values bound for one execution.
type Environment struct {
	names  []string
	values map[string]any
	trace  *TraceCollector
}

// NewEnvironment returns an empty environment.
func NewEnvironment() *Environment {
	return &Environment{values: make(map[string]any)}
}

// Bind adds a variable. Names are unique within an environment.
func (e *Environment) Bind(name string, value any) error {
	if _, ok := e.values[name]; ok {
		return fmt.Errorf("variable %q is already bound", name)
	}
	e.names = append(e.names, name)
	e.values[name] = value
	return nil
}

// set binds name, replacing any existing value.
func (e *Environment) set(name string, value any) {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = value
}

// Lookup returns the value bound to name.
func (e *Environment) Lookup(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Names returns bound names in binding order.
func (e *Environment) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Trace returns the trace collector, or nil when the run is not instrumented.
func (e *Environment) Trace() *TraceCollector {
	return e.trace
}

// clone returns a copy with its own bindings, used as a per-call scope.
func (e *Environment) clone() *Environment {
	c := NewEnvironment()
	for _, n := range e.names {
		c.names = append(c.names, n)
		c.values[n] = e.values[n]
	}
	c.trace = e.trace
	return c
}

// TraceCollector records the last generated-source position an instrumented
// program reported before it failed.
type TraceCollector struct {
	mu   sync.Mutex
	last source.Position
	ok   bool
}

// Record stores p as the most recent position.
func (t *TraceCollector) Record(p source.Position) {
	t.mu.Lock()
	t.last, t.ok = p, true
	t.mu.Unlock()
}

// Last returns the most recent position.
func (t *TraceCollector) Last() (source.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.ok
}
