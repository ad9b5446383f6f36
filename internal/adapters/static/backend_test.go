package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
)

var _ ports.CredentialBackend = (*Backend)(nil)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("user123"), bcrypt.MinCost)
	require.NoError(t, err)

	b, err := New([]User{
		{Username: "admin", Password: "admin123", Roles: []string{domainauth.RoleAdmin}},
		{Username: "user", PasswordHash: string(hash), Roles: []string{domainauth.RoleUser}},
	}, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	return b
}

func TestBackend_Authenticate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		principal string
		secret    string
		wantRoles []string
		wantErr   error
	}{
		{name: "admin", principal: "admin", secret: "admin123", wantRoles: []string{domainauth.RoleAdmin}},
		{name: "prehashed user", principal: "user", secret: "user123", wantRoles: []string{domainauth.RoleUser}},
		{name: "wrong password", principal: "admin", secret: "nope", wantErr: domainauth.ErrInvalidCredentials},
		{name: "unknown user", principal: "ghost", secret: "admin123", wantErr: domainauth.ErrInvalidCredentials},
		{name: "empty secret", principal: "admin", secret: "", wantErr: domainauth.ErrInvalidCredentials},
		{name: "case sensitive", principal: "Admin", secret: "admin123", wantErr: domainauth.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := b.Authenticate(ctx, tt.principal, tt.secret)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, id.Principal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.principal, id.Principal)
			assert.Equal(t, tt.wantRoles, id.Roles)
			assert.Equal(t, domainauth.MethodStatic, id.Method)
		})
	}
}

func TestBackend_UnknownUserStillHashes(t *testing.T) {
	b := newTestBackend(t)
	cost, err := bcrypt.Cost(b.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost, "dummy hash uses the configured cost so timing matches real users")
}

func TestBackend_ReturnedRolesAreCopies(t *testing.T) {
	b := newTestBackend(t)

	id, err := b.Authenticate(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	id.Roles[0] = "mutated"

	again, err := b.Authenticate(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, []string{domainauth.RoleAdmin}, again.Roles)
}

func TestBackend_CanceledContext(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Authenticate(ctx, "admin", "admin123")
	assert.ErrorIs(t, err, domainauth.ErrBackendUnavailable)
}

func TestNew_RejectsBadUsers(t *testing.T) {
	tests := []struct {
		name  string
		users []User
	}{
		{name: "missing username", users: []User{{Password: "x"}}},
		{name: "missing password", users: []User{{Username: "a"}}},
		{name: "both password forms", users: []User{{Username: "a", Password: "x", PasswordHash: "$2a$04$x"}}},
		{name: "bad hash", users: []User{{Username: "a", PasswordHash: "plaintext"}}},
		{name: "duplicate", users: []User{{Username: "a", Password: "x"}, {Username: "a", Password: "y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.users, Options{Cost: bcrypt.MinCost})
			assert.Error(t, err)
		})
	}
}
