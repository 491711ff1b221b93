package tools

import (
	"fmt"
	"sort"
)

// Descriptor pairs a tool's name and call schema with its implementation.
type Descriptor struct {
	Name   string
	Schema map[string]any // {"type":"function","function":{name,description,parameters}}
	Impl   Impl
	Source string // category that contributed the tool
}

// Description returns the schema's description text.
func (d Descriptor) Description() string {
	fn, _ := d.Schema["function"].(map[string]any)
	s, _ := fn["description"].(string)
	return s
}

// Parameters returns the schema's parameters object, or nil.
func (d Descriptor) Parameters() map[string]any {
	return Parameters(d.Schema)
}

// Set is what a tool source contributes before the registry is built:
// implementations keyed by name plus schemas in source order. The two
// are allowed to disagree; the builder keeps only names present in both.
type Set struct {
	Source  string
	Impls   map[string]Impl
	Schemas []map[string]any
}

// NewSet returns an empty set for the named source.
func NewSet(source string) *Set {
	return &Set{Source: source, Impls: make(map[string]Impl)}
}

// Add registers a tool with its schema built from name, description and
// parameters. A nil params means the tool takes no arguments.
func (s *Set) Add(name, description string, params map[string]any, impl Impl) {
	s.Impls[name] = impl
	s.Schemas = append(s.Schemas, Envelope(name, description, params))
}

// Len returns the number of schemas in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Schemas)
}

// Registry is the immutable tool catalog a session runs with. It is safe
// for concurrent use.
type Registry struct {
	byName  map[string]Descriptor
	order   []string
	schemas []map[string]any
}

// NewRegistry builds a registry from descriptors in the given order.
// Names must be unique and every descriptor must carry a valid Impl.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("descriptor without name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		if !d.Impl.Valid() {
			return nil, fmt.Errorf("tool %q has no implementation", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
		r.schemas = append(r.schemas, d.Schema)
	}
	return r, nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.byName[name]
	return d, ok
}

// Schemas returns the call schemas in registration order.
func (r *Registry) Schemas() []map[string]any {
	if r == nil {
		return nil
	}
	return append([]map[string]any(nil), r.schemas...)
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// SortedNames returns the tool names alphabetically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}
