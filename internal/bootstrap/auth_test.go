package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/rolegate/config"
	"github.com/target/rolegate/internal/adapters/devauth"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	apperrors "github.com/target/rolegate/internal/errors"
	"github.com/target/rolegate/internal/service"
)

func baseConfig() *config.AppConfig {
	cfg := &config.AppConfig{Services: "http,sweeper"}
	cfg.Auth.Static.Enabled = true
	cfg.Auth.Static.BcryptCost = 4
	cfg.Auth.OAuth.RedirectURL = "http://localhost:8080/auth/oauth/callback"
	cfg.Auth.DevAuth = config.DevAuthConfig{Principal: "dev-user", Roles: []string{"admin"}}
	cfg.Sanitize()
	return cfg
}

func staticFile() *config.AuthFile {
	return &config.AuthFile{
		Users: []config.StaticUser{
			{Username: "admin", Password: "admin-pw", Roles: []string{domainauth.RoleAdmin}},
			{Username: "bob", Password: "bob-pw", Roles: []string{domainauth.RoleUser}},
		},
	}
}

func TestBuildAuth_StaticLogin(t *testing.T) {
	rt, err := BuildAuth(context.Background(), AuthDeps{Config: baseConfig(), File: staticFile()})
	require.NoError(t, err)
	require.NotNil(t, rt.Service)

	view := rt.Service.Methods()
	assert.True(t, view.Methods[domainauth.MethodStatic].Enabled)
	assert.False(t, view.Methods[domainauth.MethodDatabase].Enabled)
	assert.False(t, view.Methods[domainauth.MethodOAuth].Enabled)

	res, err := rt.Service.Login(context.Background(), service.LoginInput{
		Username: "bob", Password: "bob-pw", Method: "static",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"logging", "user"}, res.Roles)
	assert.True(t, rt.Service.HasRole(context.Background(), res.Session.Token, domainauth.RoleLogging))
}

func TestBuildAuth_MockOAuth(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.OAuth.Enabled = true
	cfg.Auth.OAuth.Mode = config.OAuthModeMock

	rt, err := BuildAuth(context.Background(), AuthDeps{Config: cfg, File: staticFile()})
	require.NoError(t, err)

	started, err := rt.Service.InitiateOAuthLogin(context.Background(), "", "")
	require.NoError(t, err)
	res, err := rt.Service.HandleOAuthCallback(context.Background(), service.CallbackInput{
		Code: devauth.Code, State: started.State,
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-user", res.Session.Identity.Principal)
	assert.Contains(t, res.Roles, domainauth.RoleIDE)
}

func TestBuildAuth_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig, *config.AuthFile)
	}{
		{"database without connection", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Auth.Database.Enabled = true
		}},
		{"redis store without client", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Session.Store = config.SessionStoreRedis
		}},
		{"unknown default role", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Auth.DefaultRoles = []string{"superuser"}
		}},
		{"user with undefined role", func(_ *config.AppConfig, f *config.AuthFile) {
			f.Users[0].Roles = []string{"root"}
		}},
		{"role tree with unknown child", func(_ *config.AppConfig, f *config.AuthFile) {
			f.Roles = []domainauth.RoleDefinition{{Name: "admin", Children: []string{"ghost"}}}
		}},
		{"ldap without url", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Auth.LDAP.Enabled = true
			c.Auth.LDAP.SearchBase = "dc=example,dc=org"
		}},
		{"ldap user filter without placeholder", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Auth.LDAP.Enabled = true
			c.Auth.LDAP.URL = "ldap://127.0.0.1:1"
			c.Auth.LDAP.SearchBase = "dc=example,dc=org"
			c.Auth.LDAP.UserFilter = "(objectClass=person)"
		}},
		{"oidc without client id", func(c *config.AppConfig, _ *config.AuthFile) {
			c.Auth.OAuth.Enabled = true
			c.Auth.OAuth.DiscoveryURL = "http://127.0.0.1:1"
		}},
		{"duplicate static user", func(_ *config.AppConfig, f *config.AuthFile) {
			f.Users = append(f.Users, config.StaticUser{Username: "bob", Password: "x"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, file := baseConfig(), staticFile()
			tt.mutate(cfg, file)
			_, err := BuildAuth(context.Background(), AuthDeps{Config: cfg, File: file})
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestBuildAuth_SlidingMemorySessions(t *testing.T) {
	cfg := baseConfig()
	cfg.Session.Sliding = true
	cfg.Session.TTL = time.Minute

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rt, err := BuildAuth(context.Background(), AuthDeps{Config: cfg, File: staticFile(), Now: clock})
	require.NoError(t, err)

	res, err := rt.Service.Login(context.Background(), service.LoginInput{
		Username: "admin", Password: "admin-pw", Method: "static",
	})
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	_, err = rt.Service.ValidateSession(context.Background(), res.Session.Token)
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	_, err = rt.Service.ValidateSession(context.Background(), res.Session.Token)
	assert.NoError(t, err, "validation slides the expiry forward")
}
