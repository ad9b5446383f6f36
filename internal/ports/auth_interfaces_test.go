package ports_test

import (
	"testing"

	"github.com/target/rolegate/internal/mocks"
	authmocks "github.com/target/rolegate/internal/mocks/auth"
	"github.com/target/rolegate/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.CredentialBackend = (*mocks.MockCredentialBackend)(nil)
	var _ ports.OAuthProvider = (*mocks.MockOAuthProvider)(nil)
	var _ ports.SessionStore = (*mocks.MockSessionStore)(nil)
	var _ ports.StateStore = (*mocks.MockStateStore)(nil)
	var _ ports.CredentialBackend = (*authmocks.FakeBackend)(nil)
	var _ ports.OAuthProvider = (*authmocks.MockOAuthProvider)(nil)
	var _ ports.RoleMapper = authmocks.StaticRoleMapper{}
}
