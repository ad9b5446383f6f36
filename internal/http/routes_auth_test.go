package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/rolegate/internal/adapters/memory"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	authmocks "github.com/target/rolegate/internal/mocks/auth"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/service"
	"github.com/target/rolegate/internal/testutil"
)

type routerFixture struct {
	handler http.Handler
	clock   *testutil.TestTimeProvider
	oauth   *authmocks.MockOAuthProvider
	static  *authmocks.FakeBackend
}

func newRouterFixture(t *testing.T, loginRate float64) *routerFixture {
	t.Helper()

	reg, err := domainauth.NewRegistry(domainauth.DefaultRoleDefinitions())
	require.NoError(t, err)

	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	f := &routerFixture{
		clock: clock,
		oauth: authmocks.NewMockOAuthProvider(),
		static: &authmocks.FakeBackend{
			Kind:  domainauth.MethodStatic,
			Users: map[string]string{"admin": "admin-pw", "bob": "bob-pw"},
			Roles: map[string][]string{"admin": {domainauth.RoleAdmin}, "bob": {domainauth.RoleUser}},
		},
	}
	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Registry:       reg,
		Sessions:       memory.NewSessionStore(memory.SessionStoreConfig{Now: clock.Now}),
		States:         memory.NewStateStore(clock.Now),
		Backends:       []ports.CredentialBackend{f.static},
		OAuth:          f.oauth,
		SessionTTL:     time.Hour,
		BackendTimeout: time.Second,
	})
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{
		Auth:                   svc,
		BaseURL:                "http://localhost:8080",
		AllowedRedirectOrigins: []string{"http://localhost:8080"},
		LoginRate:              loginRate,
		LoginBurst:             3,
		Now:                    clock.Now,
	})
	return f
}

func (f *routerFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) login(t *testing.T, user, pw, method string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + user + `","password":"` + pw + `","method":"` + method + `"}`
	return f.do(t, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRouter_LoginRoleCheckLogout(t *testing.T) {
	f := newRouterFixture(t, 0)

	rec := f.login(t, "admin", "admin-pw", "static")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Success bool `json:"success"`
		Token   string
		User    struct {
			Username string
			Roles    []string
		}
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "admin", out.User.Username)
	assert.Equal(t, []string{"admin", "configuration", "ide", "logging"}, out.User.Roles)
	require.NotEmpty(t, out.Token)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	check := func(role string) string {
		r := f.do(t, bearer(httptest.NewRequest(http.MethodGet, "/auth/has-role?role="+role, nil), out.Token))
		require.Equal(t, http.StatusOK, r.Code)
		return strings.TrimSpace(r.Body.String())
	}
	assert.Equal(t, `{"allowed":true}`, check("ide"))
	assert.Equal(t, `{"allowed":false}`, check("user"))
	assert.Equal(t, `{"allowed":false}`, check("nonexistent"))

	me := f.do(t, bearer(httptest.NewRequest(http.MethodGet, "/auth/me", nil), out.Token))
	assert.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"username":"admin"`)

	logout := f.do(t, bearer(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), out.Token))
	assert.Equal(t, http.StatusOK, logout.Code)
	assert.Equal(t, `{"allowed":false}`, check("ide"))

	again := f.do(t, bearer(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), out.Token))
	assert.Equal(t, http.StatusOK, again.Code, "logout is idempotent")

	me = f.do(t, bearer(httptest.NewRequest(http.MethodGet, "/auth/me", nil), out.Token))
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestRouter_LoginFailures(t *testing.T) {
	f := newRouterFixture(t, 0)

	rec := f.login(t, "admin", "wrong", "static")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid_credentials","message":"Invalid username or password"}`,
		rec.Body.String())

	calls := f.static.Calls()
	rec = f.login(t, "admin", "admin-pw", "ldap")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, calls, f.static.Calls())
}

func TestRouter_SessionExpires(t *testing.T) {
	f := newRouterFixture(t, 0)

	rec := f.login(t, "bob", "bob-pw", "static")
	require.Equal(t, http.StatusOK, rec.Code)
	c := findCookie(rec, sessionCookieName)
	require.NotNil(t, c)

	status := func() string {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.Value})
		return f.do(t, req).Body.String()
	}
	assert.Contains(t, status(), `"authenticated":true`)

	f.clock.AddTime(time.Hour + time.Second)
	assert.JSONEq(t, `{"authenticated":false}`, status())
}

func TestRouter_OAuthRoundTrip(t *testing.T) {
	f := newRouterFixture(t, 0)

	started := f.do(t, httptest.NewRequest(http.MethodGet, "/auth/oauth/init?redirect_uri=/auth/oauth/callback", nil))
	require.Equal(t, http.StatusOK, started.Code, started.Body.String())
	assert.JSONEq(t, `{"auth_url":"https://mock-idp/auth?state=state-1"}`, started.Body.String())
	stateCookie := findCookie(started, stateCookieName)
	require.NotNil(t, stateCookie)

	callback := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/oauth/callback", strings.NewReader(`{"code":"good"}`))
		req.AddCookie(&http.Cookie{Name: stateCookieName, Value: stateCookie.Value})
		return f.do(t, req)
	}

	rec := callback()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"username":"mock.user"`)
	require.Len(t, f.oauth.Exchanges(), 1)
	assert.Equal(t, "nonce-1", f.oauth.Exchanges()[0].Nonce)
	assert.Equal(t, "http://localhost:8080/auth/oauth/callback", f.oauth.Exchanges()[0].RedirectURL)

	replay := callback()
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Len(t, f.oauth.Exchanges(), 1, "a replayed state never reaches the IdP")
}

func TestRouter_LoginRateLimited(t *testing.T) {
	f := newRouterFixture(t, 1)

	var last int
	for range 4 {
		last = f.login(t, "bob", "wrong", "static").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Non-login routes are not throttled.
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/auth/config", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_HealthAndNotFound(t *testing.T) {
	f := newRouterFixture(t, 0)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
