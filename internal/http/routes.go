package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth AuthServiceInterface

	CookieDomain           string
	CookieSecure           bool
	BaseURL                string
	AllowedRedirectOrigins []string

	// LoginRate is the sustained login attempts per second per client; zero disables limiting.
	LoginRate  float64
	LoginBurst int

	// HealthChecks are probed by /healthz, keyed by dependency name.
	HealthChecks map[string]HealthCheck

	Logger *slog.Logger
	Now    func() time.Time
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()

	health := healthHandler(services.HealthChecks, logger)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	if services.Auth != nil {
		h := &AuthHandlers{
			Svc:                    services.Auth,
			CookieDomain:           services.CookieDomain,
			CookieSecure:           services.CookieSecure,
			BaseURL:                services.BaseURL,
			AllowedRedirectOrigins: services.AllowedRedirectOrigins,
			Logger:                 logger,
			Now:                    services.Now,
		}
		limiter := NewLoginLimiter(LoginLimiterConfig{
			Rate:   rate.Limit(services.LoginRate),
			Burst:  services.LoginBurst,
			Now:    services.Now,
			Logger: logger,
		})
		registerAuthRoutes(mux, h, limiter)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusNotFound, failureBody{Error: "not_found", Message: "Not found"})
	})

	return Recover(logger)(Logging(logger)(mux))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, limiter *LoginLimiter) {
	mux.HandleFunc("GET /auth/config", h.Config)
	mux.Handle("POST /auth/login", limiter.Middleware(http.HandlerFunc(h.Login)))
	mux.Handle("GET /auth/oauth/init", limiter.Middleware(http.HandlerFunc(h.OAuthInit)))
	mux.Handle("POST /auth/oauth/callback", limiter.Middleware(http.HandlerFunc(h.OAuthCallback)))
	mux.Handle("GET /auth/oauth/callback", limiter.Middleware(http.HandlerFunc(h.OAuthCallbackRedirect)))
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("GET /auth/has-role", h.HasRole)
	mux.Handle("GET /auth/me", RequireAuth(h.Svc, h.logger())(http.HandlerFunc(h.Me)))
}
