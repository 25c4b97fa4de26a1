package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/http/middleware"
)

func newThrottled(t *testing.T, cfg middleware.RateConfig) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return middleware.NewThrottle(client, cfg, nil).Middleware(ok)
}

func hit(h http.Handler, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Client-ID", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestThrottleRejectsAfterBurst(t *testing.T) {
	h := newThrottled(t, middleware.RateConfig{Rate: 0.01, Burst: 2})

	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/rides", "rider-1").Code)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/rides", "rider-1").Code)

	rec := hit(h, http.MethodPost, "/v1/rides", "rider-1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other clients and other scopes keep their own buckets
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/rides", "rider-2").Code)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPut, "/v1/drivers/Arjun/location", "rider-1").Code)
}

func TestThrottleIgnoresReads(t *testing.T) {
	h := newThrottled(t, middleware.RateConfig{Rate: 0.01, Burst: 1})
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodGet, "/v1/rides", "reader").Code)
	}
}

func TestNilThrottlePassesThrough(t *testing.T) {
	var th *middleware.Throttle
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := th.Middleware(ok)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/rides", "x").Code)
	require.Nil(t, middleware.NewThrottle(nil, middleware.RateConfig{Rate: 1, Burst: 1}, nil))
}

func TestThrottleFailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := middleware.NewThrottle(client, middleware.RateConfig{Rate: 1, Burst: 1}, nil).Middleware(ok)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/rides", "x").Code)
}
