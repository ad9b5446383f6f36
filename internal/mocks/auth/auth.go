package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.CredentialBackend = (*FakeBackend)(nil)
	_ ports.OAuthProvider     = (*MockOAuthProvider)(nil)
	_ ports.RoleMapper        = StaticRoleMapper{}
)

// FakeBackend is a credential backend keyed by principal with a fixed secret per entry.
type FakeBackend struct {
	Kind domainauth.Method
	// Users maps principal to secret.
	Users map[string]string
	// Roles maps principal to granted roles.
	Roles map[string][]string

	AuthenticateFunc func(ctx context.Context, principal, secret string) (domainauth.Identity, error)

	mu    sync.Mutex
	calls int
}

func (f *FakeBackend) Method() domainauth.Method { return f.Kind }

func (f *FakeBackend) Authenticate(ctx context.Context, principal, secret string) (domainauth.Identity, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.AuthenticateFunc != nil {
		return f.AuthenticateFunc(ctx, principal, secret)
	}
	want, ok := f.Users[principal]
	if !ok || want != secret || secret == "" {
		return domainauth.Identity{}, domainauth.ErrInvalidCredentials
	}
	return domainauth.Identity{
		Principal: principal,
		Roles:     append([]string(nil), f.Roles[principal]...),
		Method:    f.Kind,
	}, nil
}

// Calls reports how many times Authenticate ran.
func (f *FakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MockOAuthProvider simulates an IdP for tests with deterministic state/nonce handling.
type MockOAuthProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	// Deterministic values for predictable testing
	AuthURL     string
	StatePrefix string
	NoncePrefix string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
	exchanges []ports.ExchangeInput
}

// NewMockOAuthProvider creates a MockOAuthProvider with sensible defaults.
func NewMockOAuthProvider() *MockOAuthProvider {
	return &MockOAuthProvider{
		AuthURL:     "https://mock-idp/auth",
		StatePrefix: "state",
		NoncePrefix: "nonce",
		DefaultUser: domainauth.Identity{
			Principal: "mock.user",
			Email:     "mock.user@example.com",
			Roles:     []string{domainauth.RoleUser},
		},
	}
}

func (m *MockOAuthProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}

	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	authURL := m.AuthURL
	if authURL == "" {
		authURL = "https://mock-idp/auth"
	}
	statePrefix := m.StatePrefix
	if statePrefix == "" {
		statePrefix = "state"
	}
	noncePrefix := m.NoncePrefix
	if noncePrefix == "" {
		noncePrefix = "nonce"
	}

	state := fmt.Sprintf("%s-%d", statePrefix, n)
	nonce := fmt.Sprintf("%s-%d", noncePrefix, n)
	return authURL + "?state=" + state, state, nonce, nil
}

func (m *MockOAuthProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	m.mu.Lock()
	m.exchanges = append(m.exchanges, in)
	m.mu.Unlock()

	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	if in.Code == "" {
		return domainauth.Identity{}, domainauth.ErrOAuthExchangeFailed
	}
	user := m.DefaultUser.Clone()
	if user.Principal == "" {
		user.Principal = "mock.user"
	}
	return user, nil
}

// Exchanges returns the inputs Exchange was called with.
func (m *MockOAuthProvider) Exchanges() []ports.ExchangeInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ExchangeInput(nil), m.exchanges...)
}

// StaticRoleMapper maps groups by exact, case-insensitive lookup.
type StaticRoleMapper map[string][]string

func (m StaticRoleMapper) Map(groups []string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, m[strings.ToLower(g)]...)
	}
	return out
}
