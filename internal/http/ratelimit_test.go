package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/target/rolegate/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = addr
	return req
}

func TestLoginLimiter_BurstThenRefill(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	l := NewLoginLimiter(LoginLimiterConfig{Rate: rate.Limit(1), Burst: 2, Now: clock.Now})
	require.NotNil(t, l)
	h := l.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("192.0.2.1:5000"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same IP on another port shares the budget")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("198.51.100.7:5000"))
	assert.Equal(t, http.StatusOK, rec.Code, "clients are isolated")

	clock.AddTime(time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.1:5000"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginLimiter_PurgesIdleClients(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	l := NewLoginLimiter(LoginLimiterConfig{Rate: rate.Limit(1), Burst: 1, IdleTTL: time.Minute, Now: clock.Now})
	h := l.Middleware(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1"))
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.2:1"))
	assert.Equal(t, 2, l.Len())

	clock.AddTime(2 * time.Minute)
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.3:1"))
	assert.Equal(t, 1, l.Len())
}

func TestLoginLimiter_Disabled(t *testing.T) {
	l := NewLoginLimiter(LoginLimiterConfig{})
	assert.Nil(t, l)

	h := l.Middleware(okHandler())
	for range 10 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("192.0.2.1:1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
