package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/spaceryder/internal/http/middleware"
)

func newLimited(t *testing.T, now *time.Time) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := middleware.NewRateLimiter(client, middleware.Policy{
		middleware.ClassRead:    {Rate: 1, Burst: 3},
		middleware.ClassBooking: {Rate: 1, Burst: 2},
		middleware.ClassControl: {Rate: 1, Burst: 1},
	}, nil).WithClock(func() time.Time { return *now })
	return limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func send(h http.Handler, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Client-ID", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestClassify(t *testing.T) {
	cases := []struct {
		method  string
		path    string
		class   middleware.Class
		limited bool
	}{
		{http.MethodPost, "/v1/trips", middleware.ClassBooking, true},
		{http.MethodPost, "/v1/trips/", middleware.ClassBooking, true},
		{http.MethodPost, "/v1/trips/6f1c/cancel", middleware.ClassBooking, true},
		{http.MethodPost, "/v1/trips/6f1c/start", middleware.ClassControl, true},
		{http.MethodPost, "/v1/trips/6f1c/complete", middleware.ClassControl, true},
		{http.MethodGet, "/v1/jobs/6f1c", middleware.ClassRead, true},
		{http.MethodGet, "/v1/trips", middleware.ClassRead, true},
		{http.MethodGet, "/v1/trips/events", "", false},
	}
	for _, tc := range cases {
		class, limited := middleware.Classify(httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, tc.class, class, "%s %s", tc.method, tc.path)
		require.Equal(t, tc.limited, limited, "%s %s", tc.method, tc.path)
	}
}

func TestRateLimiterThrottlesBookings(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newLimited(t, &now)

	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "a").Code)
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips/6f1c/cancel", "a").Code)

	rec := send(h, http.MethodPost, "/v1/trips", "a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips/6f1c/start", "a").Code, "control writes use their own bucket")
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "b").Code, "clients are isolated")

	now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "a").Code)
}

func TestRateLimiterJobPollingDoesNotStarveBookings(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newLimited(t, &now)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusNoContent, send(h, http.MethodGet, "/v1/jobs/6f1c", "a").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, send(h, http.MethodGet, "/v1/jobs/6f1c", "a").Code)

	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "a").Code)
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips/6f1c/cancel", "a").Code)
	require.Equal(t, http.StatusNoContent, send(h, http.MethodGet, "/v1/trips/events", "a").Code, "websocket feed is not limited")
}

func TestRateLimiterFractionalWait(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newLimited(t, &now)

	send(h, http.MethodPost, "/v1/trips", "a")
	send(h, http.MethodPost, "/v1/trips", "a")
	now = now.Add(500 * time.Millisecond)

	rec := send(h, http.MethodPost, "/v1/trips", "a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	now = now.Add(500 * time.Millisecond)
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "a").Code)
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	limiter := middleware.NewRateLimiter(nil, middleware.Policy{middleware.ClassBooking: {Rate: 1, Burst: 1}}, nil)
	require.Nil(t, limiter)

	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.Equal(t, http.StatusNoContent, send(h, http.MethodPost, "/v1/trips", "a").Code)
}
