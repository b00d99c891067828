package tool

import (
	"fmt"
	"slices"

	"github.com/shubhambiswas2196/markgraph/core"
)

// Registry is the closed set of tools known to the engine. It is built once
// at startup; a name that is not registered can never be dispatched.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry. Empty and duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}

	for _, t := range tools {
		if t == nil {
			return nil, core.NewConfigurationError("tools", "nil tool")
		}

		name := t.Name()
		if name == "" {
			return nil, core.NewConfigurationError("tools", "tool with empty name")
		}

		if _, exists := r.tools[name]; exists {
			return nil, core.NewConfigurationError("tools", "duplicate tool name %q", name)
		}

		r.tools[name] = t
		r.order = append(r.order, name)
	}

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for tests
// and static wiring.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get resolves a tool by name. Unknown names yield an error wrapping
// core.ErrUnknownTool.
func (r *Registry) Get(name string) (Tool, error) {
	if r != nil {
		if t, ok := r.tools[name]; ok {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Subset returns a registry restricted to names. Every name must exist.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, core.NewConfigurationError("tools", "%v", err)
		}
		tools = append(tools, t)
	}
	return NewRegistry(tools...)
}

// Merge returns a registry containing the tools of r followed by extra.
// Duplicate names are rejected.
func (r *Registry) Merge(extra ...Tool) (*Registry, error) {
	return NewRegistry(append(r.Tools(), extra...)...)
}
