package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/target/rolegate/internal/domain/auth"
)

// CredentialBackend verifies a principal/secret pair against one identity source.
type CredentialBackend interface {
	// Method reports which auth method this backend serves.
	Method() domainauth.Method

	// Authenticate returns the verified identity, or an error matching
	// domainauth.ErrInvalidCredentials or domainauth.ErrBackendUnavailable.
	Authenticate(ctx context.Context, principal, secret string) (domainauth.Identity, error)
}

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
}

// OAuthProvider initiates and completes an authorization-code flow against an IdP.
type OAuthProvider interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying the nonce, and returns the authenticated identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code        string
	Nonce       string
	RedirectURL string
}

// SessionStore issues and tracks sessions keyed by opaque token.
type SessionStore interface {
	// Create issues a new session for identity expiring ttl after now.
	Create(ctx context.Context, identity domainauth.Identity, ttl time.Duration) (domainauth.Session, error)
	// Validate returns the live session, or domainauth.ErrSessionExpired / ErrSessionNotFound.
	Validate(ctx context.Context, token string) (domainauth.Session, error)
	// Revoke removes the session. Unknown tokens are not an error.
	Revoke(ctx context.Context, token string) error
	// Sweep deletes expired sessions and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// OAuthState is the server-side record bound to an OAuth state value.
type OAuthState struct {
	Nonce       string `json:"nonce"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
}

// StateStore holds short-lived OAuth anti-forgery state.
type StateStore interface {
	Put(ctx context.Context, state string, rec OAuthState, ttl time.Duration) error
	// Consume returns and deletes the record. Missing or expired state reports ok=false.
	Consume(ctx context.Context, state string) (rec OAuthState, ok bool, err error)
}

// RoleMapper maps external group or claim values to internal role names.
type RoleMapper interface {
	Map(groups []string) []string
}
