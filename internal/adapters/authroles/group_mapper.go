package authroles

// Package authroles maps external group names and claim values onto internal role names.

import (
	"strings"
)

// GroupMapper maps groups through a configured table. Groups without an entry
// pass through unchanged when they already name a known role.
// Matching is case-insensitive; output preserves first-seen order without duplicates.
type GroupMapper struct {
	mappings     map[string][]string
	isRole       func(string) bool
	defaultRoles []string
}

// Config groups GroupMapper options.
type Config struct {
	// Mappings maps an external group to the internal roles it grants.
	Mappings map[string][]string
	// IsRole reports whether a name is a known role; nil disables pass-through.
	IsRole func(string) bool
	// DefaultRoles are granted when no group maps to anything.
	DefaultRoles []string
}

// NewGroupMapper builds a GroupMapper from cfg.
func NewGroupMapper(cfg Config) *GroupMapper {
	m := make(map[string][]string, len(cfg.Mappings))
	for group, roles := range cfg.Mappings {
		key := strings.ToLower(strings.TrimSpace(group))
		if key == "" {
			continue
		}
		m[key] = append(m[key], roles...)
	}
	return &GroupMapper{
		mappings:     m,
		isRole:       cfg.IsRole,
		defaultRoles: append([]string(nil), cfg.DefaultRoles...),
	}
}

// Map returns the internal roles granted by groups.
func (m *GroupMapper) Map(groups []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}

	for _, g := range groups {
		g = strings.TrimSpace(g)
		if roles, ok := m.mappings[strings.ToLower(g)]; ok {
			for _, r := range roles {
				add(r)
			}
			continue
		}
		if m.isRole != nil && m.isRole(g) {
			add(g)
		}
	}

	if len(out) == 0 {
		for _, r := range m.defaultRoles {
			add(r)
		}
	}
	return out
}
