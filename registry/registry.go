// Package registry holds the static table of delegate capabilities assembled
// at startup. The registry is read-only after construction and therefore
// safe for unsynchronized concurrent reads from every in-flight request.
package registry

import (
	"fmt"

	"github.com/mkragh/ensemble/core"
)

// Descriptor identifies one registered delegate: its name, what it does, the
// capability tags the coordinator selects by, and the Role to invoke. A
// descriptor's Role may itself be a coordinator (teams-of-teams).
type Descriptor struct {
	Name        string
	Description string
	Tags        []string
	Role        core.Role
}

// Registry is an immutable lookup table of worker descriptors. Build it once
// at process start via New; there is no mutation API.
type Registry struct {
	byName map[string]Descriptor
	order  []string
}

// New constructs a registry from descriptors. Duplicate or empty names and
// nil roles are construction errors (fatal at startup by contract).
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("registry: descriptor with empty name")
		}
		if d.Role == nil {
			return nil, fmt.Errorf("registry: descriptor %q has no role", d.Name)
		}
		if _, exists := r.byName[d.Name]; exists {
			return nil, fmt.Errorf("registry: duplicate descriptor name %q", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// FromRoles builds descriptors directly from roles, using each role's own
// name, description and capability tags.
func FromRoles(roles ...core.Role) (*Registry, error) {
	descriptors := make([]Descriptor, len(roles))
	for i, role := range roles {
		descriptors[i] = Descriptor{
			Name:        role.Name(),
			Description: role.Description(),
			Tags:        role.CapabilityTags(),
			Role:        role,
		}
	}
	return New(descriptors...)
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// ByTag returns all descriptors carrying the capability tag, in registration
// order.
func (r *Registry) ByTag(tag string) []Descriptor {
	var out []Descriptor
	for _, name := range r.order {
		d := r.byName[name]
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// FirstByTag returns the first descriptor carrying the tag.
func (r *Registry) FirstByTag(tag string) (Descriptor, bool) {
	for _, name := range r.order {
		d := r.byName[name]
		for _, t := range d.Tags {
			if t == tag {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int { return len(r.order) }
