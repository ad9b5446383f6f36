package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
)

// Defaults applied when AuthServiceOptions leaves a duration unset.
const (
	DefaultSessionTTL     = 8 * time.Hour
	DefaultOAuthStateTTL  = 5 * time.Minute
	DefaultBackendTimeout = 5 * time.Second
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Registry *domainauth.Registry      // Required
	Sessions ports.SessionStore        // Required
	States   ports.StateStore          // Required when OAuth is set
	Backends []ports.CredentialBackend // Enabled password backends, at most one per method
	OAuth    ports.OAuthProvider       // Optional: nil disables OAuth
	// OAuthProviderType is reported by Methods and must match the provider
	// named in InitiateOAuthLogin when one is given.
	OAuthProviderType string

	SessionTTL     time.Duration
	OAuthStateTTL  time.Duration
	BackendTimeout time.Duration
	Logger         *slog.Logger
}

// AuthService orchestrates logins across credential backends, OAuth flows,
// sessions and role checks.
type AuthService struct {
	registry     *domainauth.Registry
	sessions     ports.SessionStore
	states       ports.StateStore
	backends     map[domainauth.Method]ports.CredentialBackend
	oauth        ports.OAuthProvider
	providerType string

	sessionTTL     time.Duration
	stateTTL       time.Duration
	backendTimeout time.Duration
	logger         *slog.Logger
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Registry == nil {
		return nil, errors.New("role registry is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if opts.OAuth != nil && opts.States == nil {
		return nil, errors.New("state store is required when oauth is enabled")
	}

	backends := make(map[domainauth.Method]ports.CredentialBackend, len(opts.Backends))
	for _, b := range opts.Backends {
		m := b.Method()
		if m == domainauth.MethodOAuth {
			return nil, fmt.Errorf("method %q cannot be served by a credential backend", m)
		}
		if _, dup := backends[m]; dup {
			return nil, fmt.Errorf("duplicate backend for method %q", m)
		}
		backends[m] = b
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providerType := opts.OAuthProviderType
	if providerType == "" {
		providerType = "generic"
	}

	return &AuthService{
		registry:       opts.Registry,
		sessions:       opts.Sessions,
		states:         opts.States,
		backends:       backends,
		oauth:          opts.OAuth,
		providerType:   providerType,
		sessionTTL:     durationOr(opts.SessionTTL, DefaultSessionTTL),
		stateTTL:       durationOr(opts.OAuthStateTTL, DefaultOAuthStateTTL),
		backendTimeout: durationOr(opts.BackendTimeout, DefaultBackendTimeout),
		logger:         logger.With("component", "auth_service"),
	}, nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// LoginInput is a password login request.
type LoginInput struct {
	Username string
	Password string
	Method   string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Session domainauth.Session
	// Roles is the sorted closure of the granted roles.
	Roles []string
}

// Login authenticates against the backend selected by in.Method and issues a session.
// Unknown, disabled and oauth methods all yield domainauth.ErrMethodDisabled.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	method, ok := domainauth.ParseMethod(in.Method)
	if !ok {
		return nil, domainauth.ErrMethodDisabled
	}
	backend, ok := s.backends[method]
	if !ok {
		return nil, domainauth.ErrMethodDisabled
	}

	identity, err := callWithTimeout(ctx, s.backendTimeout, func(ctx context.Context) (domainauth.Identity, error) {
		return backend.Authenticate(ctx, in.Username, in.Password)
	})
	if err != nil {
		err = normalizeCredentialErr(err)
		s.logger.InfoContext(ctx, "login failed",
			"method", method,
			"principal", in.Username,
			"reason", errorReason(err),
			"error", err,
		)
		return nil, err
	}
	identity.Method = method

	res, err := s.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "method", method, "principal", identity.Principal)
	return res, nil
}

// OAuthInitResult carries what the client needs to start the OAuth redirect.
type OAuthInitResult struct {
	AuthURL string
	State   string
}

// InitiateOAuthLogin starts an OAuth flow. provider may be empty or must match
// the configured provider type. redirectURI is passed to the IdP as-is; callers
// are responsible for validating it.
func (s *AuthService) InitiateOAuthLogin(ctx context.Context, provider, redirectURI string) (*OAuthInitResult, error) {
	if s.oauth == nil || (provider != "" && provider != s.providerType) {
		return nil, domainauth.ErrMethodDisabled
	}

	type begin struct{ authURL, state, nonce string }
	b, err := callWithTimeout(ctx, s.backendTimeout, func(ctx context.Context) (begin, error) {
		u, st, n, err := s.oauth.Begin(ctx, ports.BeginInput{RedirectURL: redirectURI})
		return begin{u, st, n}, err
	})
	if err != nil {
		if errors.Is(err, domainauth.ErrBackendUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("begin oauth flow: %w", err)
	}

	rec := ports.OAuthState{Nonce: b.nonce, Provider: s.providerType, RedirectURL: redirectURI}
	if putErr := s.states.Put(ctx, b.state, rec, s.stateTTL); putErr != nil {
		return nil, fmt.Errorf("store oauth state: %w", putErr)
	}
	return &OAuthInitResult{AuthURL: b.authURL, State: b.state}, nil
}

// CallbackInput is the IdP callback payload.
type CallbackInput struct {
	Code  string
	State string
}

// HandleOAuthCallback redeems the state, exchanges the code and issues a session.
// A missing, unknown or expired state fails without contacting the IdP.
func (s *AuthService) HandleOAuthCallback(ctx context.Context, in CallbackInput) (*LoginResult, error) {
	if s.oauth == nil {
		return nil, domainauth.ErrMethodDisabled
	}
	if in.State == "" || in.Code == "" {
		return nil, domainauth.ErrOAuthExchangeFailed
	}

	rec, ok, err := s.states.Consume(ctx, in.State)
	if err != nil {
		return nil, domainauth.BackendUnavailable(fmt.Errorf("consume oauth state: %w", err))
	}
	if !ok {
		s.logger.InfoContext(ctx, "oauth callback with unknown or expired state")
		return nil, domainauth.ErrOAuthExchangeFailed
	}

	identity, err := callWithTimeout(ctx, s.backendTimeout, func(ctx context.Context) (domainauth.Identity, error) {
		return s.oauth.Exchange(ctx, ports.ExchangeInput{
			Code:        in.Code,
			Nonce:       rec.Nonce,
			RedirectURL: rec.RedirectURL,
		})
	})
	if err != nil {
		if !errors.Is(err, domainauth.ErrBackendUnavailable) {
			err = domainauth.OAuthExchangeFailed(err)
		}
		s.logger.InfoContext(ctx, "oauth exchange failed", "reason", errorReason(err), "error", err)
		return nil, err
	}
	identity.Method = domainauth.MethodOAuth

	res, err := s.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "method", domainauth.MethodOAuth, "principal", identity.Principal)
	return res, nil
}

func (s *AuthService) issue(ctx context.Context, identity domainauth.Identity) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, identity, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &LoginResult{
		Session: sess,
		Roles:   s.registry.Effective(sess.Identity.Roles),
	}, nil
}

// ValidateSession returns the live session for token.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*domainauth.Session, error) {
	if token == "" {
		return nil, domainauth.ErrSessionNotFound
	}
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// HasRole reports whether token names a live session whose roles imply role.
// Every failure, including store errors, is a silent deny.
func (s *AuthService) HasRole(ctx context.Context, token, role string) bool {
	sess, err := s.ValidateSession(ctx, token)
	if err != nil {
		if !errors.Is(err, domainauth.ErrSessionNotFound) && !errors.Is(err, domainauth.ErrSessionExpired) {
			s.logger.WarnContext(ctx, "role check denied on session error", "error", err)
		}
		return false
	}
	return s.Implies(sess.Identity.Roles, role)
}

// Implies reports whether granted roles imply role under the registry.
// Callers holding an already validated session use it instead of HasRole.
func (s *AuthService) Implies(granted []string, role string) bool {
	return s.registry.Implies(granted, role)
}

// EffectiveRoles returns the sorted closure of roles under the registry.
func (s *AuthService) EffectiveRoles(roles []string) []string {
	return s.registry.Effective(roles)
}

// Logout revokes the session for token. It is idempotent; an empty or
// unknown token is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Methods returns the client-visible method configuration.
func (s *AuthService) Methods() domainauth.MethodsView {
	view := domainauth.MethodsView{Methods: make(map[domainauth.Method]domainauth.MethodView, 4)}
	for _, m := range domainauth.Methods() {
		var mv domainauth.MethodView
		if m == domainauth.MethodOAuth {
			mv.Enabled = s.oauth != nil
			mv.ProviderType = s.providerType
		} else {
			_, mv.Enabled = s.backends[m]
		}
		view.Methods[m] = mv
	}
	return view
}

// callWithTimeout runs fn under a deadline of d. If fn has not returned when
// the deadline passes, the call is abandoned and reported as backend
// unavailable; fn keeps running until it observes its cancelled context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && isContextCancellation(r.err) {
			return r.v, domainauth.BackendUnavailable(r.err)
		}
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		return zero, domainauth.BackendUnavailable(cctx.Err())
	}
}

// normalizeCredentialErr keeps backend errors inside the login taxonomy.
func normalizeCredentialErr(err error) error {
	switch {
	case errors.Is(err, domainauth.ErrInvalidCredentials), errors.Is(err, domainauth.ErrBackendUnavailable):
		return err
	default:
		return domainauth.BackendUnavailable(err)
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domainauth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domainauth.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, domainauth.ErrOAuthExchangeFailed):
		return "oauth_exchange_failed"
	default:
		return "other"
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
