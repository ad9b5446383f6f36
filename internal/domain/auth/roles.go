package auth

import (
	"slices"
	"strings"

	apperrors "github.com/target/rolegate/internal/errors"
)

// Built-in role names used by the default role tree.
const (
	RoleAdmin         = "admin"
	RoleUser          = "user"
	RoleLogging       = "logging"
	RoleIDE           = "ide"
	RoleConfiguration = "configuration"
)

// RoleDefinition names a role and the roles it directly implies.
type RoleDefinition struct {
	Name     string   `json:"name"               yaml:"name"`
	Children []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// DefaultRoleDefinitions is the role tree used when none is configured.
func DefaultRoleDefinitions() []RoleDefinition {
	return []RoleDefinition{
		{Name: RoleAdmin, Children: []string{RoleLogging, RoleIDE, RoleConfiguration}},
		{Name: RoleUser, Children: []string{RoleLogging}},
		{Name: RoleLogging},
		{Name: RoleIDE},
		{Name: RoleConfiguration},
	}
}

// Registry is an immutable role hierarchy. It is safe for concurrent use.
type Registry struct {
	roles map[string]RoleDefinition
}

// NewRegistry validates defs and builds a Registry.
// Empty or duplicate names, children that reference undefined roles, and
// inheritance cycles are rejected with a configuration error.
func NewRegistry(defs []RoleDefinition) (*Registry, error) {
	roles := make(map[string]RoleDefinition, len(defs))
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, apperrors.Configurationf("role definition with empty name")
		}
		if _, dup := roles[name]; dup {
			return nil, apperrors.Configurationf("duplicate role definition %q", name)
		}
		children := make([]string, 0, len(d.Children))
		for _, c := range d.Children {
			if c = strings.TrimSpace(c); c != "" && !slices.Contains(children, c) {
				children = append(children, c)
			}
		}
		roles[name] = RoleDefinition{Name: name, Children: children}
	}

	for _, d := range roles {
		for _, c := range d.Children {
			if _, ok := roles[c]; !ok {
				return nil, apperrors.Configurationf("role %q implies undefined role %q", d.Name, c)
			}
		}
	}

	r := &Registry{roles: roles}
	if cycle := r.findCycle(); cycle != nil {
		return nil, apperrors.Configurationf("role inheritance cycle: %s", strings.Join(cycle, " -> "))
	}
	return r, nil
}

// findCycle returns one cycle path (first node repeated at the end) or nil.
func (r *Registry) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(r.roles))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = grey
		stack = append(stack, name)
		for _, c := range r.roles[name].Children {
			switch color[c] {
			case grey:
				start := slices.Index(stack, c)
				return append(slices.Clone(stack[start:]), c)
			case white:
				if cyc := visit(c); cyc != nil {
					return cyc
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range r.Names() {
		if color[name] == white {
			if cyc := visit(name); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// Names returns all role names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for n := range r.roles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the definition for name.
func (r *Registry) Resolve(name string) (RoleDefinition, bool) {
	d, ok := r.roles[name]
	if !ok {
		return RoleDefinition{}, false
	}
	d.Children = slices.Clone(d.Children)
	return d, true
}

// Implies reports whether required is one of granted or reachable from any of
// them through child roles. Traversal is breadth-first with no revisits.
func (r *Registry) Implies(granted []string, required string) bool {
	if required == "" {
		return false
	}
	found := false
	r.walk(granted, func(name string) bool {
		found = name == required
		return !found
	})
	return found
}

// Effective returns the sorted closure of granted under the hierarchy.
// Granted roles unknown to the registry are kept as-is.
func (r *Registry) Effective(granted []string) []string {
	var out []string
	r.walk(granted, func(name string) bool {
		out = append(out, name)
		return true
	})
	slices.Sort(out)
	return out
}

// walk visits granted roles and their descendants breadth-first. visit
// returns false to stop early.
func (r *Registry) walk(granted []string, visit func(string) bool) {
	seen := make(map[string]struct{}, len(granted))
	queue := make([]string, 0, len(granted))
	for _, g := range granted {
		if _, ok := seen[g]; ok || g == "" {
			continue
		}
		seen[g] = struct{}{}
		queue = append(queue, g)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if !visit(name) {
			return
		}
		for _, c := range r.roles[name].Children {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			queue = append(queue, c)
		}
	}
}
