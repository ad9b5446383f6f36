package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
)

func TestMockOAuthProvider_Begin_Defaults(t *testing.T) {
	provider := NewMockOAuthProvider()
	ctx := context.Background()

	input := ports.BeginInput{RedirectURL: "http://localhost:8080/callback"}
	authURL, state, nonce, err := provider.Begin(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, "https://mock-idp/auth?state=state-1", authURL)
	assert.Equal(t, "state-1", state)
	assert.Equal(t, "nonce-1", nonce)

	// Second call should increment counters
	_, state2, nonce2, err := provider.Begin(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "state-2", state2)
	assert.Equal(t, "nonce-2", nonce2)
}

func TestMockOAuthProvider_Exchange(t *testing.T) {
	provider := NewMockOAuthProvider()

	id, err := provider.Exchange(context.Background(), ports.ExchangeInput{Code: "abc", Nonce: "n"})
	require.NoError(t, err)
	assert.Equal(t, "mock.user", id.Principal)

	// Returned identity must not alias the default.
	id.Roles[0] = "changed"
	assert.Equal(t, domainauth.RoleUser, provider.DefaultUser.Roles[0])

	_, err = provider.Exchange(context.Background(), ports.ExchangeInput{})
	require.ErrorIs(t, err, domainauth.ErrOAuthExchangeFailed)
	assert.Len(t, provider.Exchanges(), 2)
}

func TestFakeBackend(t *testing.T) {
	b := &FakeBackend{
		Kind:  domainauth.MethodStatic,
		Users: map[string]string{"admin": "secret"},
		Roles: map[string][]string{"admin": {"admin"}},
	}

	id, err := b.Authenticate(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, id.Roles)

	_, err = b.Authenticate(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, domainauth.ErrInvalidCredentials)
	assert.Equal(t, 2, b.Calls())
}

func TestStaticRoleMapper(t *testing.T) {
	m := StaticRoleMapper{"ops": {"admin"}}
	assert.Equal(t, []string{"admin"}, m.Map([]string{"OPS", "other"}))
	assert.Empty(t, m.Map(nil))
}
