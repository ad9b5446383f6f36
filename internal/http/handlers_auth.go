package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	apperrors "github.com/target/rolegate/internal/errors"
	"github.com/target/rolegate/internal/service"
)

const (
	sessionCookieName      = "session_id"
	stateCookieName        = "oauth_state"
	postLoginCookieName    = "post_login_redirect"
	oauthCookieMaxAge      = 600
	maxRoleQueryLen        = 128
	maxRedirectURIQueryLen = 2048
)

var errInvalidRedirect = errors.New("redirect_uri is not an allowed destination")

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	InitiateOAuthLogin(ctx context.Context, provider, redirectURI string) (*service.OAuthInitResult, error)
	HandleOAuthCallback(ctx context.Context, in service.CallbackInput) (*service.LoginResult, error)
	ValidateSession(ctx context.Context, token string) (*domainauth.Session, error)
	HasRole(ctx context.Context, token, role string) bool
	Implies(granted []string, role string) bool
	EffectiveRoles(roles []string) []string
	Logout(ctx context.Context, token string) error
	Methods() domainauth.MethodsView
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc          AuthServiceInterface
	CookieDomain string
	// CookieSecure forces the Secure attribute; otherwise it follows the request scheme.
	CookieSecure bool
	// BaseURL resolves relative OAuth redirect_uri values.
	BaseURL string
	// AllowedRedirectOrigins are the origins an absolute redirect_uri may use.
	AllowedRedirectOrigins []string
	Logger                 *slog.Logger
	Now                    func() time.Time
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Config reports which login methods are enabled.
// GET /auth/config.
func (h *AuthHandlers) Config(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.Svc.Methods())
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Method   string `json:"method"`
}

type loginResponse struct {
	Success   bool        `json:"success"`
	User      sessionUser `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Login handles password logins for the static, database and ldap methods.
// POST /auth/login {username, password, method}.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Svc.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
		Method:   req.Method,
	})
	if err != nil {
		RenderAuthError(w, r, h.logger(), err)
		return
	}
	h.writeLoginSuccess(w, r, res)
}

type oauthInitResponse struct {
	AuthURL string `json:"auth_url"`
}

// OAuthInit starts an OAuth login and returns the provider URL.
// GET /auth/oauth/init?provider=<type>&redirect_uri=<callback>&return_to=<path>.
func (h *AuthHandlers) OAuthInit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI, err := h.resolveRedirectURI(q.Get("redirect_uri"))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_redirect_uri", Err: errInvalidRedirect})
		return
	}

	res, err := h.Svc.InitiateOAuthLogin(r.Context(), strings.TrimSpace(q.Get("provider")), redirectURI)
	if err != nil {
		RenderAuthError(w, r, h.logger(), err)
		return
	}

	h.setCookie(w, r, stateCookieName, res.State, oauthCookieMaxAge)
	if ret := q.Get("return_to"); ret != "" {
		h.setCookie(w, r, postLoginCookieName, safeRedirectPath(ret), oauthCookieMaxAge)
	}
	WriteJSON(w, http.StatusOK, oauthInitResponse{AuthURL: res.AuthURL})
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// OAuthCallback completes an OAuth login posted by the client.
// POST /auth/oauth/callback {code[, state]}. The state falls back to the
// oauth_state cookie set by OAuthInit.
func (h *AuthHandlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, ok := h.completeCallback(w, r, req)
	if !ok {
		return
	}
	h.writeLoginSuccess(w, r, res)
}

// OAuthCallbackRedirect completes an OAuth login when the provider redirects
// the browser straight back to the service, then sends the browser on to the
// return_to path captured at init.
// GET /auth/oauth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) OAuthCallbackRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, ok := h.completeCallback(w, r, callbackRequest{Code: q.Get("code"), State: q.Get("state")})
	if !ok {
		return
	}
	h.setSessionCookie(w, r, res.Session)
	http.Redirect(w, r, h.getPostLoginRedirect(w, r), http.StatusFound)
}

func (h *AuthHandlers) completeCallback(w http.ResponseWriter, r *http.Request, req callbackRequest) (*service.LoginResult, bool) {
	state := req.State
	if state == "" {
		if c, err := r.Cookie(stateCookieName); err == nil {
			state = c.Value
		}
	}
	// The state is single-use whatever the outcome.
	h.clearCookie(w, r, stateCookieName)

	res, err := h.Svc.HandleOAuthCallback(r.Context(), service.CallbackInput{Code: req.Code, State: state})
	if err != nil {
		RenderAuthError(w, r, h.logger(), err)
		return nil, false
	}
	return res, true
}

// Logout revokes the caller's session. It always answers 200.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		if err := h.Svc.Logout(r.Context(), token); err != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", err)
		}
	}
	h.clearCookie(w, r, sessionCookieName)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type statusResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *sessionUser `json:"user,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
}

// Status returns the current authentication status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		WriteJSON(w, http.StatusOK, statusResponse{})
		return
	}

	session, err := h.Svc.ValidateSession(r.Context(), token)
	if err != nil {
		if apperrors.IsBackendUnavailable(err) {
			RenderAuthError(w, r, h.logger(), err)
			return
		}
		// Session is invalid or expired, clear the cookie
		h.clearCookie(w, r, sessionCookieName)
		WriteJSON(w, http.StatusOK, statusResponse{})
		return
	}

	user := h.userFor(session.Identity, nil)
	expires := session.ExpiresAt
	WriteJSON(w, http.StatusOK, statusResponse{Authenticated: true, User: &user, ExpiresAt: &expires})
}

// Me returns the identity attached by RequireAuth.
// GET /auth/me.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(r.Context())
	if !ok {
		RenderAuthError(w, r, h.logger(), domainauth.ErrSessionNotFound)
		return
	}
	user := h.userFor(session.Identity, nil)
	WriteJSON(w, http.StatusOK, map[string]any{"user": user, "expires_at": session.ExpiresAt})
}

// HasRole answers a route-guard check for the caller's session.
// GET /auth/has-role?role=<name>. Any failure is reported as not allowed.
func (h *AuthHandlers) HasRole(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	allowed := false
	if role != "" && len(role) <= maxRoleQueryLen {
		allowed = h.Svc.HasRole(r.Context(), tokenFromRequest(r), role)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *AuthHandlers) writeLoginSuccess(w http.ResponseWriter, r *http.Request, res *service.LoginResult) {
	h.setSessionCookie(w, r, res.Session)
	WriteJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		User:      h.userFor(res.Session.Identity, res.Roles),
		Token:     res.Session.Token,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// userFor builds the response user; effective may be nil to have it computed.
func (h *AuthHandlers) userFor(id domainauth.Identity, effective []string) sessionUser {
	if effective == nil {
		effective = h.Svc.EffectiveRoles(id.Roles)
	}
	if effective == nil {
		effective = []string{}
	}
	return sessionUser{
		Username:    id.Principal,
		Roles:       effective,
		Method:      id.Method,
		Email:       id.Email,
		DisplayName: id.DisplayName,
	}
}

// resolveRedirectURI applies the redirect policy: empty keeps the provider
// default, a relative path is joined to BaseURL, an absolute URI must use an
// allowed origin.
func (h *AuthHandlers) resolveRedirectURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > maxRedirectURIQueryLen {
		return "", errInvalidRedirect
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errInvalidRedirect
	}
	if !u.IsAbs() && u.Host == "" {
		if h.BaseURL == "" || safeRedirectPath(raw) != raw {
			return "", errInvalidRedirect
		}
		return strings.TrimRight(h.BaseURL, "/") + raw, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errInvalidRedirect
	}
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, allowed := range h.AllowedRedirectOrigins {
		if strings.EqualFold(allowed, origin) {
			return raw, nil
		}
	}
	return "", errInvalidRedirect
}

func (h *AuthHandlers) isSecure(r *http.Request) bool {
	return h.CookieSecure || r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *AuthHandlers) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   h.isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies
// to maximize compatibility across browsers during deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   h.isSecure(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

// setSessionCookie writes the session cookie based on the session's expiry.
func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, r *http.Request, s domainauth.Session) {
	maxAge := int(s.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	h.setCookie(w, r, sessionCookieName, s.Token, maxAge)
}

// getPostLoginRedirect returns the post-login redirect URL and clears the cookie.
func (h *AuthHandlers) getPostLoginRedirect(w http.ResponseWriter, r *http.Request) string {
	redirectURI := "/"
	if c, err := r.Cookie(postLoginCookieName); err == nil {
		redirectURI = safeRedirectPath(c.Value)
		h.clearCookie(w, r, postLoginCookieName)
	}
	return redirectURI
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.ContainsAny(candidate, "\\\r\n") {
		return "/"
	}
	return candidate
}
