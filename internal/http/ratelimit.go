package httpx

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiterConfig configures per-client login throttling.
type LoginLimiterConfig struct {
	Rate  rate.Limit // tokens per second
	Burst int
	// IdleTTL is how long an untouched client entry is kept. Defaults to 10m.
	IdleTTL time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginLimiter throttles login attempts per client IP.
// Idle entries are purged lazily while serving requests.
type LoginLimiter struct {
	cfg LoginLimiterConfig

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastPurge time.Time
}

// NewLoginLimiter returns a limiter, or nil when cfg.Rate is not positive.
// A nil *LoginLimiter's Middleware is a pass-through.
func NewLoginLimiter(cfg LoginLimiterConfig) *LoginLimiter {
	if cfg.Rate <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LoginLimiter{cfg: cfg, clients: make(map[string]*clientLimiter)}
}

// Middleware rejects requests over the client's budget with 429.
func (l *LoginLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			l.cfg.Logger.WarnContext(r.Context(), "login rate limit exceeded",
				slog.String("client_ip", ip),
				slog.String("path", r.URL.Path),
			)
			writeRateLimitResponse(w, l.cfg.Rate)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *LoginLimiter) allow(key string) bool {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPurge) > l.cfg.IdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastAccess) > l.cfg.IdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastPurge = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.clients[key] = c
	}
	c.lastAccess = now
	return c.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientIP uses the connection peer address. Forwarded headers are ignored
// since any client can set them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse writes 429 with Retry-After set to the refill time of one token.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteJSON(w, http.StatusTooManyRequests, failureBody{
		Error:   "rate_limited",
		Message: "Too many login attempts, try again later",
	})
}
