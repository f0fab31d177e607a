package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_rate_limited_total",
	Help: "Requests rejected by the rate limiter, by route class.",
}, []string{"class"})

// Class groups the routes that draw from one bucket.
type Class string

const (
	// ClassBooking covers trip intents that enqueue a job: POST /v1/trips and
	// POST /v1/trips/{id}/cancel.
	ClassBooking Class = "booking"
	// ClassControl covers the remaining writes (start, complete).
	ClassControl Class = "control"
	// ClassRead covers lookups and job polling.
	ClassRead Class = "read"
)

// RateConfig allows Rate requests per second with bursts of up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// Policy is the bucket configuration per class. A class without a positive
// rate is not limited.
type Policy map[Class]RateConfig

// Classify maps a request to its bucket. The websocket feed is long-lived and
// reports false.
func Classify(r *http.Request) (Class, bool) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		if path == "/v1/trips/events" {
			return "", false
		}
		return ClassRead, true
	case http.MethodPost:
		if path == "/v1/trips" || (strings.HasPrefix(path, "/v1/trips/") && strings.HasSuffix(path, "/cancel")) {
			return ClassBooking, true
		}
	}
	return ClassControl, true
}

// RateLimiter keeps one GCRA cell per client and class in Redis, so a client
// polling its jobs never spends the allowance it needs to book or cancel.
type RateLimiter struct {
	client redis.Cmdable
	policy Policy
	script *redis.Script
	logger *zap.Logger
	clock  func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter's Middleware
// passes every request through.
func NewRateLimiter(client redis.Cmdable, policy Policy, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, policy: policy, script: redis.NewScript(gcraLua), logger: logger, clock: time.Now}
}

// WithClock replaces the time source, for tests.
func (l *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	l.clock = clock
	return l
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || len(l.policy) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, limited := Classify(r)
		cfg := l.policy[class]
		if !limited || cfg.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		wait, err := l.reserve(r.Context(), class, clientIdentifier(r), cfg)
		if err != nil {
			l.logger.Warn("rate limit check failed", zap.String("class", string(class)), zap.Error(err))
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if wait > 0 {
			rateLimited.WithLabelValues(string(class)).Inc()
			w.Header().Set("Retry-After", retryAfter(wait))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserve admits one request and returns zero, or returns how long the client
// must wait before the next one fits.
func (l *RateLimiter) reserve(ctx context.Context, class Class, client string, cfg RateConfig) (time.Duration, error) {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	key := "rl:" + string(class) + ":" + client
	interval := 1000 / cfg.Rate
	res, err := l.script.Run(ctx, l.client, []string{key}, l.clock().UnixMilli(), interval, burst).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	if res[0] == 1 {
		return 0, nil
	}
	return time.Duration(res[1]) * time.Millisecond, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(fwd) != "" {
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(d time.Duration) string {
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

// gcraLua stores the theoretical arrival time (TAT) of the next request in ms.
// A request is admitted while TAT - (burst-1)*interval <= now.
const gcraLua = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = interval * (tonumber(ARGV[3]) - 1)

local tat = tonumber(redis.call('GET', KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local earliest = tat - tolerance
if earliest > now then
  return {0, math.ceil(earliest - now)}
end

tat = tat + interval
redis.call('SET', KEYS[1], string.format('%.3f', tat), 'PX', math.ceil(tat - now))
return {1, 0}
`
