package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/service"
	"github.com/target/rolegate/internal/testutil"
)

// mockAuthService is a test double for service.AuthService.
type mockAuthService struct {
	loginFunc    func(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	initFunc     func(ctx context.Context, provider, redirectURI string) (*service.OAuthInitResult, error)
	callbackFunc func(ctx context.Context, in service.CallbackInput) (*service.LoginResult, error)
	validateFunc func(ctx context.Context, token string) (*domainauth.Session, error)
	hasRoleFunc  func(ctx context.Context, token, role string) bool
	impliesFunc  func(granted []string, role string) bool
	logoutFunc   func(ctx context.Context, token string) error
	methods      domainauth.MethodsView

	logoutTokens  []string
	validateCalls int
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func testSession(token string) domainauth.Session {
	now := testutil.TestTime()
	return domainauth.Session{
		Token: token,
		Identity: domainauth.Identity{
			Principal: "alice",
			Roles:     []string{domainauth.RoleUser},
			Method:    domainauth.MethodStatic,
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func (m *mockAuthService) Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, in)
	}
	return &service.LoginResult{Session: testSession("tok-login"), Roles: []string{"logging", "user"}}, nil
}

func (m *mockAuthService) InitiateOAuthLogin(
	ctx context.Context,
	provider, redirectURI string,
) (*service.OAuthInitResult, error) {
	if m.initFunc != nil {
		return m.initFunc(ctx, provider, redirectURI)
	}
	return &service.OAuthInitResult{AuthURL: "https://idp.example.com/auth?state=s1", State: "s1"}, nil
}

func (m *mockAuthService) HandleOAuthCallback(
	ctx context.Context,
	in service.CallbackInput,
) (*service.LoginResult, error) {
	if m.callbackFunc != nil {
		return m.callbackFunc(ctx, in)
	}
	return &service.LoginResult{Session: testSession("tok-oauth"), Roles: []string{"logging", "user"}}, nil
}

func (m *mockAuthService) ValidateSession(ctx context.Context, token string) (*domainauth.Session, error) {
	m.validateCalls++
	if m.validateFunc != nil {
		return m.validateFunc(ctx, token)
	}
	if token == "" {
		return nil, domainauth.ErrSessionNotFound
	}
	s := testSession(token)
	return &s, nil
}

func (m *mockAuthService) HasRole(ctx context.Context, token, role string) bool {
	if m.hasRoleFunc != nil {
		return m.hasRoleFunc(ctx, token, role)
	}
	return false
}

func (m *mockAuthService) Implies(granted []string, role string) bool {
	if m.impliesFunc != nil {
		return m.impliesFunc(granted, role)
	}
	return false
}

func (m *mockAuthService) EffectiveRoles(roles []string) []string {
	return append([]string{"logging"}, roles...)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	m.logoutTokens = append(m.logoutTokens, token)
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, token)
	}
	return nil
}

func (m *mockAuthService) Methods() domainauth.MethodsView { return m.methods }

func newTestHandlers(svc AuthServiceInterface) *AuthHandlers {
	return &AuthHandlers{
		Svc:                    svc,
		BaseURL:                "https://app.example.com",
		AllowedRedirectOrigins: []string{"https://app.example.com", "https://ide.example.com"},
		Now:                    testutil.FixedTimeFunc(testutil.TestTime()),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandlers_Config(t *testing.T) {
	svc := &mockAuthService{methods: domainauth.MethodsView{Methods: map[domainauth.Method]domainauth.MethodView{
		domainauth.MethodStatic:   {Enabled: true},
		domainauth.MethodDatabase: {},
		domainauth.MethodLDAP:     {},
		domainauth.MethodOAuth:    {Enabled: true, ProviderType: "generic"},
	}}}
	rec := httptest.NewRecorder()
	newTestHandlers(svc).Config(rec, httptest.NewRequest(http.MethodGet, "/auth/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"methods":{
		"static":{"enabled":true},
		"database":{"enabled":false},
		"ldap":{"enabled":false},
		"oauth":{"enabled":true,"provider_type":"generic"}}}`, rec.Body.String())
}

func TestAuthHandlers_Login_Success(t *testing.T) {
	var got service.LoginInput
	svc := &mockAuthService{loginFunc: func(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
		got = in
		return &service.LoginResult{Session: testSession("tok-1"), Roles: []string{"logging", "user"}}, nil
	}}

	body := `{"username":"alice","password":"pw","method":"static"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newTestHandlers(svc).Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.LoginInput{Username: "alice", Password: "pw", Method: "static"}, got)

	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "tok-1", out["token"])
	user, ok := out["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, []any{"logging", "user"}, user["roles"])

	c := findCookie(rec, sessionCookieName)
	require.NotNil(t, c)
	assert.Equal(t, "tok-1", c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 3600, c.MaxAge)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestAuthHandlers_Login_Failures(t *testing.T) {
	leak := errors.New("ldap: dial tcp 10.0.0.5:636: connection refused")
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid credentials", domainauth.InvalidCredentials(leak), http.StatusUnauthorized, "Invalid username or password"},
		{"method disabled", domainauth.ErrMethodDisabled, http.StatusForbidden, "Authentication method is not enabled"},
		{"backend unavailable", domainauth.BackendUnavailable(leak), http.StatusServiceUnavailable,
			"Authentication service temporarily unavailable"},
		{"unexpected", leak, http.StatusInternalServerError, "Internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{loginFunc: func(context.Context, service.LoginInput) (*service.LoginResult, error) {
				return nil, tt.err
			}}
			req := httptest.NewRequest(http.MethodPost, "/auth/login",
				strings.NewReader(`{"username":"alice","password":"pw","method":"ldap"}`))
			rec := httptest.NewRecorder()
			newTestHandlers(svc).Login(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			out := decodeBody(t, rec)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.message, out["message"])
			assert.NotContains(t, rec.Body.String(), "10.0.0.5")
			assert.Nil(t, findCookie(rec, sessionCookieName))
		})
	}
}

func TestAuthHandlers_Login_BadJSON(t *testing.T) {
	called := false
	svc := &mockAuthService{loginFunc: func(context.Context, service.LoginInput) (*service.LoginResult, error) {
		called = true
		return nil, nil
	}}
	for _, body := range []string{`{`, `{"username":"a","extra":1}`, ``} {
		rec := httptest.NewRecorder()
		newTestHandlers(svc).Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.False(t, called)
}

func TestAuthHandlers_OAuthInit(t *testing.T) {
	var gotProvider, gotRedirect string
	svc := &mockAuthService{initFunc: func(_ context.Context, provider, redirectURI string) (*service.OAuthInitResult, error) {
		gotProvider, gotRedirect = provider, redirectURI
		return &service.OAuthInitResult{AuthURL: "https://idp.example.com/auth?state=s1", State: "s1"}, nil
	}}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/oauth/init?provider=keycloak&redirect_uri=/oauth/done&return_to=/ide", nil)
	rec := httptest.NewRecorder()
	newTestHandlers(svc).OAuthInit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"auth_url":"https://idp.example.com/auth?state=s1"}`, rec.Body.String())
	assert.Equal(t, "keycloak", gotProvider)
	assert.Equal(t, "https://app.example.com/oauth/done", gotRedirect)

	state := findCookie(rec, stateCookieName)
	require.NotNil(t, state)
	assert.Equal(t, "s1", state.Value)
	assert.Equal(t, oauthCookieMaxAge, state.MaxAge)
	ret := findCookie(rec, postLoginCookieName)
	require.NotNil(t, ret)
	assert.Equal(t, "/ide", ret.Value)
}

func TestAuthHandlers_OAuthInit_RedirectPolicy(t *testing.T) {
	h := newTestHandlers(&mockAuthService{})

	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"", "", true},
		{"/cb", "https://app.example.com/cb", true},
		{"https://ide.example.com/cb?x=1", "https://ide.example.com/cb?x=1", true},
		{"HTTPS://APP.example.com/cb", "HTTPS://APP.example.com/cb", true},
		{"https://evil.example.net/cb", "", false},
		{"//evil.example.net/cb", "", false},
		{"javascript:alert(1)", "", false},
		{"relative/path", "", false},
		{"/\\evil.example.net", "", false},
	}
	for _, tt := range tests {
		got, err := h.resolveRedirectURI(tt.raw)
		if !tt.ok {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestAuthHandlers_OAuthInit_Rejected(t *testing.T) {
	called := false
	svc := &mockAuthService{initFunc: func(context.Context, string, string) (*service.OAuthInitResult, error) {
		called = true
		return nil, domainauth.ErrMethodDisabled
	}}

	rec := httptest.NewRecorder()
	newTestHandlers(svc).OAuthInit(rec,
		httptest.NewRequest(http.MethodGet, "/auth/oauth/init?redirect_uri=https://evil.example.net/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)

	rec = httptest.NewRecorder()
	newTestHandlers(svc).OAuthInit(rec, httptest.NewRequest(http.MethodGet, "/auth/oauth/init?provider=github", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, findCookie(rec, stateCookieName))
}

func TestAuthHandlers_OAuthCallback_StateFromCookie(t *testing.T) {
	var got service.CallbackInput
	svc := &mockAuthService{callbackFunc: func(_ context.Context, in service.CallbackInput) (*service.LoginResult, error) {
		got = in
		return &service.LoginResult{Session: testSession("tok-oauth"), Roles: []string{"user"}}, nil
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/oauth/callback", strings.NewReader(`{"code":"abc"}`))
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s-cookie"})
	rec := httptest.NewRecorder()
	newTestHandlers(svc).OAuthCallback(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.CallbackInput{Code: "abc", State: "s-cookie"}, got)
	assert.Equal(t, "tok-oauth", decodeBody(t, rec)["token"])

	cleared := findCookie(rec, stateCookieName)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestAuthHandlers_OAuthCallback_BodyStateWins(t *testing.T) {
	var got service.CallbackInput
	svc := &mockAuthService{callbackFunc: func(_ context.Context, in service.CallbackInput) (*service.LoginResult, error) {
		got = in
		return nil, domainauth.OAuthExchangeFailed(errors.New("invalid_grant: code expired"))
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/oauth/callback", strings.NewReader(`{"code":"abc","state":"s-body"}`))
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s-cookie"})
	rec := httptest.NewRecorder()
	newTestHandlers(svc).OAuthCallback(rec, req)

	assert.Equal(t, "s-body", got.State)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OAuth authentication failed", decodeBody(t, rec)["message"])
	assert.NotContains(t, rec.Body.String(), "invalid_grant")
}

func TestAuthHandlers_OAuthCallbackRedirect(t *testing.T) {
	h := newTestHandlers(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: postLoginCookieName, Value: "/ide"})
	rec := httptest.NewRecorder()
	h.OAuthCallbackRedirect(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/ide", rec.Header().Get("Location"))
	c := findCookie(rec, sessionCookieName)
	require.NotNil(t, c)
	assert.Equal(t, "tok-oauth", c.Value)
}

func TestAuthHandlers_Logout(t *testing.T) {
	t.Run("bearer token", func(t *testing.T) {
		svc := &mockAuthService{}
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer tok-9")
		rec := httptest.NewRecorder()
		newTestHandlers(svc).Logout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
		assert.Equal(t, []string{"tok-9"}, svc.logoutTokens)
	})

	t.Run("cookie token and store failure still 200", func(t *testing.T) {
		svc := &mockAuthService{logoutFunc: func(context.Context, string) error { return errors.New("redis down") }}
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "tok-c"})
		rec := httptest.NewRecorder()
		newTestHandlers(svc).Logout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"tok-c"}, svc.logoutTokens)
		c := findCookie(rec, sessionCookieName)
		require.NotNil(t, c)
		assert.Equal(t, -1, c.MaxAge)
	})

	t.Run("no token", func(t *testing.T) {
		svc := &mockAuthService{}
		rec := httptest.NewRecorder()
		newTestHandlers(svc).Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, svc.logoutTokens)
	})
}

func TestAuthHandlers_Status(t *testing.T) {
	h := newTestHandlers(&mockAuthService{})

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "tok-s"})
	rec = httptest.NewRecorder()
	h.Status(rec, req)

	out := decodeBody(t, rec)
	assert.Equal(t, true, out["authenticated"])
	user := out["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, []any{"logging", "user"}, user["roles"])
	assert.NotEmpty(t, out["expires_at"])
}

func TestAuthHandlers_Status_Expired(t *testing.T) {
	h := newTestHandlers(&mockAuthService{validateFunc: func(context.Context, string) (*domainauth.Session, error) {
		return nil, domainauth.ErrSessionExpired
	}})

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
	require.NotNil(t, findCookie(rec, sessionCookieName))
}

func TestAuthHandlers_HasRole(t *testing.T) {
	var gotToken, gotRole string
	h := newTestHandlers(&mockAuthService{hasRoleFunc: func(_ context.Context, token, role string) bool {
		gotToken, gotRole = token, role
		return role == "logging"
	}})

	req := httptest.NewRequest(http.MethodGet, "/auth/has-role?role=logging", nil)
	req.Header.Set("Authorization", "bearer tok-r")
	rec := httptest.NewRecorder()
	h.HasRole(rec, req)
	assert.JSONEq(t, `{"allowed":true}`, rec.Body.String())
	assert.Equal(t, "tok-r", gotToken)
	assert.Equal(t, "logging", gotRole)

	rec = httptest.NewRecorder()
	h.HasRole(rec, httptest.NewRequest(http.MethodGet, "/auth/has-role?role=admin", nil))
	assert.JSONEq(t, `{"allowed":false}`, rec.Body.String())

	gotRole = ""
	rec = httptest.NewRecorder()
	h.HasRole(rec, httptest.NewRequest(http.MethodGet, "/auth/has-role", nil))
	assert.JSONEq(t, `{"allowed":false}`, rec.Body.String())
	assert.Empty(t, gotRole, "empty role never reaches the service")
}

func TestSafeRedirectPath(t *testing.T) {
	tests := map[string]string{
		"":                    "/",
		"/":                   "/",
		"/ide?tab=1":          "/ide?tab=1",
		"https://evil.com/":   "/",
		"//evil.com":          "/",
		"/\\evil.com":         "/",
		"relative":            "/",
		"/ok\r\nSet-Cookie:x": "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirectPath(in), in)
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, tokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "cookie-tok"})
	assert.Equal(t, "cookie-tok", tokenFromRequest(req))

	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Equal(t, "cookie-tok", tokenFromRequest(req), "non-bearer schemes fall back to the cookie")

	req.Header.Set("Authorization", "Bearer header-tok")
	assert.Equal(t, "header-tok", tokenFromRequest(req))
}
