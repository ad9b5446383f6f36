package config

import (
	"strings"
	"time"
)

// Session store backends.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// SessionConfig controls session lifetime and storage.
type SessionConfig struct {
	// TTL is the absolute session lifetime.
	TTL time.Duration `env:"TTL" envDefault:"8h"`
	// Sliding extends a session's expiry on each successful validation.
	Sliding bool `env:"SLIDING" envDefault:"false"`
	// Store selects the backing store: memory or redis.
	Store string `env:"STORE" envDefault:"memory"`
	// RedisPrefix namespaces session keys in Redis.
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"rolegate:session:"`
	// ExpiredRetention keeps expired records in Redis so they report as expired rather than unknown.
	ExpiredRetention time.Duration `env:"EXPIRED_RETENTION" envDefault:"10m"`
	// SweepInterval is how often expired sessions are removed.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	// OAuthStatePrefix namespaces OAuth state keys in Redis.
	OAuthStatePrefix string `env:"OAUTH_STATE_PREFIX" envDefault:"rolegate:oauth_state:"`
}

// Sanitize applies defaults for out-of-range values.
func (c *SessionConfig) Sanitize() {
	if c.TTL <= 0 {
		c.TTL = 8 * time.Hour
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store != SessionStoreRedis {
		c.Store = SessionStoreMemory
	}
	if c.ExpiredRetention < 0 {
		c.ExpiredRetention = 0
	}
	if c.SweepInterval < time.Second {
		c.SweepInterval = time.Minute
	}
	if strings.TrimSpace(c.RedisPrefix) == "" {
		c.RedisPrefix = "rolegate:session:"
	}
	if strings.TrimSpace(c.OAuthStatePrefix) == "" {
		c.OAuthStatePrefix = "rolegate:oauth_state:"
	}
}
