package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OAuthMode selects the OAuth provider implementation.
type OAuthMode string

const (
	// OAuthModeOIDC talks to a real OAuth2/OIDC identity provider.
	OAuthModeOIDC OAuthMode = "oidc"
	// OAuthModeMock uses the local dev provider (for development only).
	OAuthModeMock OAuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for OAuthMode.
func (m *OAuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oidc", "oauth", "":
		*m = OAuthModeOIDC
		return nil
	case "mock":
		*m = OAuthModeMock
		return nil
	default:
		return fmt.Errorf("invalid OAuthMode: %q (valid options: oidc, mock)", v)
	}
}

// StaticAuthConfig enables the configured-user backend. Users come from the auth file.
type StaticAuthConfig struct {
	Enabled    bool `env:"ENABLED"     envDefault:"false"`
	BcryptCost int  `env:"BCRYPT_COST" envDefault:"10"`
}

// DatabaseAuthConfig enables the Postgres-backed user backend.
type DatabaseAuthConfig struct {
	Enabled    bool `env:"ENABLED"     envDefault:"false"`
	BcryptCost int  `env:"BCRYPT_COST" envDefault:"10"`
}

// LDAPConfig configures the directory backend.
type LDAPConfig struct {
	Enabled            bool   `env:"ENABLED"              envDefault:"false"`
	URL                string `env:"URL"`
	StartTLS           bool   `env:"START_TLS"            envDefault:"false"`
	InsecureSkipVerify bool   `env:"INSECURE_SKIP_VERIFY" envDefault:"false"`
	BindDN             string `env:"BIND_DN"`
	BindPassword       string `env:"BIND_PASSWORD"`
	SearchBase         string `env:"SEARCH_BASE"`
	UserFilter         string `env:"USER_FILTER"          envDefault:"(uid=%s)"`
	BindDNTemplate     string `env:"BIND_DN_TEMPLATE"`
	GroupSearchBase    string `env:"GROUP_SEARCH_BASE"`
	GroupFilter        string `env:"GROUP_FILTER"         envDefault:"(memberUid=%s)"`
	GroupAttribute     string `env:"GROUP_ATTRIBUTE"      envDefault:"cn"`
	EmailAttribute     string `env:"EMAIL_ATTRIBUTE"      envDefault:"mail"`
	NameAttribute      string `env:"NAME_ATTRIBUTE"       envDefault:"cn"`
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	Enabled bool      `env:"ENABLED" envDefault:"false"`
	Mode    OAuthMode `env:"MODE"    envDefault:"oidc"`
	// ProviderType is reported to clients and must match the init request's provider, if given.
	ProviderType  string `env:"PROVIDER_TYPE"  envDefault:"generic"`
	ClientID      string `env:"CLIENT_ID"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	RedirectURL   string `env:"REDIRECT_URL"   envDefault:"http://localhost:8080/auth/oauth/callback"`
	Scope         string `env:"SCOPE"          envDefault:"openid profile email"`
	DiscoveryURL  string `env:"DISCOVERY_URL"`
	AuthURL       string `env:"AUTH_URL"`
	TokenURL      string `env:"TOKEN_URL"`
	UserInfoURL   string `env:"USERINFO_URL"`
	RoleAttribute string `env:"ROLE_ATTRIBUTE" envDefault:"groups"`
	// StateTTL bounds how long an initiated login may take.
	StateTTL time.Duration `env:"STATE_TTL" envDefault:"5m"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when OAUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	Principal string   `env:"PRINCIPAL" envDefault:"dev-user"`
	Email     string   `env:"EMAIL"     envDefault:"dev@example.com"`
	Roles     []string `env:"ROLES"     envDefault:"admin"           envSeparator:";"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// File is the YAML file holding the role tree, static users and group mappings.
	File string `env:"AUTH_CONFIG_FILE"`

	// BackendTimeout bounds every credential backend and IdP call.
	BackendTimeout time.Duration `env:"AUTH_BACKEND_TIMEOUT" envDefault:"5s"`

	// DefaultRoles are granted to LDAP/OAuth users whose groups map to nothing.
	// Overrides default_roles from the auth file when set.
	DefaultRoles []string `env:"AUTH_DEFAULT_ROLES" envSeparator:","`

	Static   StaticAuthConfig   `envPrefix:"AUTH_STATIC_"`
	Database DatabaseAuthConfig `envPrefix:"AUTH_DATABASE_"`
	LDAP     LDAPConfig         `envPrefix:"AUTH_LDAP_"`
	OAuth    OAuthConfig        `envPrefix:"OAUTH_"`
	DevAuth  DevAuthConfig      `envPrefix:"DEV_AUTH_"`
}

// Sanitize trims values and applies defaults.
func (c *AuthConfig) Sanitize() {
	c.File = strings.TrimSpace(c.File)
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 5 * time.Second
	}
	c.DefaultRoles = trimNonEmpty(c.DefaultRoles)

	if c.OAuth.StateTTL <= 0 {
		c.OAuth.StateTTL = 5 * time.Minute
	}
	c.OAuth.ProviderType = strings.TrimSpace(c.OAuth.ProviderType)
	if c.OAuth.ProviderType == "" {
		c.OAuth.ProviderType = "generic"
	}
	if c.OAuth.Mode == "" {
		c.OAuth.Mode = OAuthModeOIDC
	}
	c.OAuth.RoleAttribute = strings.TrimSpace(c.OAuth.RoleAttribute)
	c.LDAP.URL = strings.TrimSpace(c.LDAP.URL)
	c.DevAuth.Roles = trimNonEmpty(c.DevAuth.Roles)
}

// Validate reports missing parameters for enabled methods.
func (c *AuthConfig) Validate() error {
	var errs []error
	if c.LDAP.Enabled {
		if c.LDAP.URL == "" {
			errs = append(errs, errors.New("AUTH_LDAP_URL is required when LDAP is enabled"))
		}
		if c.LDAP.BindDNTemplate == "" && c.LDAP.SearchBase == "" {
			errs = append(errs, errors.New("AUTH_LDAP_SEARCH_BASE or AUTH_LDAP_BIND_DN_TEMPLATE is required"))
		}
	}
	if c.OAuth.Enabled && c.OAuth.Mode == OAuthModeOIDC {
		if c.OAuth.ClientID == "" {
			errs = append(errs, errors.New("OAUTH_CLIENT_ID is required when OAuth is enabled"))
		}
		if c.OAuth.DiscoveryURL == "" && (c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "") {
			errs = append(errs, errors.New("OAUTH_DISCOVERY_URL or OAUTH_AUTH_URL and OAUTH_TOKEN_URL are required"))
		}
	}
	if !c.AnyEnabled() {
		errs = append(errs, errors.New("no authentication method is enabled"))
	}
	return errors.Join(errs...)
}

// AnyEnabled reports whether at least one method is enabled.
func (c *AuthConfig) AnyEnabled() bool {
	return c.Static.Enabled || c.Database.Enabled || c.LDAP.Enabled || c.OAuth.Enabled
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
