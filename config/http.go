package config

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://app.example.com").
	// Its origin is always an allowed OAuth redirect target.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain. Public suffixes are rejected.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CookieSecure forces the Secure flag on cookies. When false, the flag
	// follows the request scheme.
	CookieSecure bool `env:"APP_COOKIE_SECURE" envDefault:"false"`

	// AllowedRedirectOrigins lists extra origins (scheme://host[:port]) that
	// OAuth redirect_uri values may point to.
	AllowedRedirectOrigins []string `env:"HTTP_ALLOWED_REDIRECT_ORIGINS" envSeparator:","`

	// LoginRateLimit is the sustained login attempts per second per client.
	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" envDefault:"1"`
	// LoginRateBurst is the login burst size per client.
	LoginRateBurst int `env:"LOGIN_RATE_BURST" envDefault:"5"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"    envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration.
func (c *HTTPConfig) Sanitize() {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":8080"
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.CookieDomain = sanitizeCookieDomain(c.CookieDomain)

	origins := make([]string, 0, len(c.AllowedRedirectOrigins)+1)
	if o := originOf(c.BaseURL); o != "" {
		origins = append(origins, o)
	}
	for _, raw := range c.AllowedRedirectOrigins {
		if o := originOf(strings.TrimSpace(raw)); o != "" && !containsFold(origins, o) {
			origins = append(origins, o)
		}
	}
	c.AllowedRedirectOrigins = origins

	if c.LoginRateLimit <= 0 {
		c.LoginRateLimit = 1
	}
	if c.LoginRateBurst <= 0 {
		c.LoginRateBurst = 5
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// sanitizeCookieDomain lowercases d and drops it when it is a public suffix
// such as "com" or "co.uk".
func sanitizeCookieDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, ".")
	if d == "" || d == "localhost" {
		return d
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
		return ""
	}
	return d
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
