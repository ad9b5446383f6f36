package auth

// Package auth contains domain-level types for authentication, sessions and roles.
// It is pure and free of framework/adapter concerns.

import (
	"slices"
	"strings"
	"time"
)

// Method identifies a credential backend.
// Keep string form for easy persistence, config and JSON.
type Method string

const (
	MethodStatic   Method = "static"
	MethodDatabase Method = "database"
	MethodLDAP     Method = "ldap"
	MethodOAuth    Method = "oauth"
)

// Methods lists every known method in display order.
func Methods() []Method {
	return []Method{MethodStatic, MethodDatabase, MethodLDAP, MethodOAuth}
}

// ParseMethod normalises s into a known Method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Methods(), m) {
		return m, true
	}
	return "", false
}

// Identity is a verified principal plus the role names granted to it directly.
// Backends produce it; it is not modified after a session is issued.
type Identity struct {
	Principal   string   `json:"principal"`
	Roles       []string `json:"roles"`
	Method      Method   `json:"method"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

// Clone returns a copy that shares no slices with id.
func (id Identity) Clone() Identity {
	out := id
	out.Roles = append([]string(nil), id.Roles...)
	return out
}

// Session is the server-side record linking an opaque token to an Identity.
// Clients only ever see Token.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its absolute expiry at now.
// A session created with a zero ttl is expired immediately.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MethodView is the client-visible state of one auth method.
type MethodView struct {
	Enabled      bool   `json:"enabled"`
	ProviderType string `json:"provider_type,omitempty"`
}

// MethodsView is the non-secret projection of the auth method configuration.
type MethodsView struct {
	Methods map[Method]MethodView `json:"methods"`
}
