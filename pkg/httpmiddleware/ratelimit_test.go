package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(cfg RateLimitConfig) (*limiter, http.Handler) {
	l := newLimiter(cfg)
	h := l.middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return l, h
}

func hit(h http.Handler, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/discount/validate", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BudgetAndRefusal(t *testing.T) {
	_, h := limitedHandler(RateLimitConfig{Max: 3, Window: time.Minute})

	for i := range 3 {
		w := hit(h, "198.51.100.7:4000", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d is within budget", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(h, "198.51.100.7:4000", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestRateLimit_WindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l, h := limitedHandler(RateLimitConfig{Max: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	require.Equal(t, http.StatusOK, hit(h, "198.51.100.7:4000", nil).Code)
	require.Equal(t, http.StatusOK, hit(h, "198.51.100.7:4000", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "198.51.100.7:4000", nil).Code)

	// Half the previous window still overlaps: 2 * 0.5 = 1 carried, so one
	// slot is free again.
	now = now.Add(90 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "198.51.100.7:4000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "198.51.100.7:4000", nil).Code)

	// Two full windows later everything is forgotten.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusOK, hit(h, "198.51.100.7:4000", nil).Code)
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	_, h := limitedHandler(RateLimitConfig{Max: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(h, "198.51.100.7:4000", nil).Code)
	assert.Equal(t, http.StatusOK, hit(h, "198.51.100.8:4000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "198.51.100.7:5000", nil).Code,
		"same IP on a new connection shares the bucket")
}

func TestRateLimit_ForwardedForWins(t *testing.T) {
	_, h := limitedHandler(RateLimitConfig{Max: 1, Window: time.Minute})

	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.1"}
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1111", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:2222", xff).Code,
		"first forwarded hop identifies the client, not the proxy address")
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	_, h := limitedHandler(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-Api-Key")
		},
	})

	keyA := map[string]string{"X-Api-Key": "key-a"}
	keyB := map[string]string{"X-Api-Key": "key-b"}
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1111", keyA).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1111", keyA).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1111", keyB).Code)
}

func TestLimiterEvictStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	l.now = func() time.Time { return now }

	l.take("a")
	l.take("b")
	require.Len(t, l.windows, 2)

	l.evictStale(now.Add(time.Minute))
	assert.Len(t, l.windows, 2, "entries within two windows survive")

	l.evictStale(now.Add(2 * time.Minute))
	assert.Empty(t, l.windows)
}
