package middleware

import (
	"context"
	"errors"
	"math"
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

var throttled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ride_requests_throttled_total",
	Help: "Mutating requests rejected by the token bucket, by route scope.",
}, []string{"scope"})

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

func (c RateConfig) enabled() bool { return c.Rate > 0 && c.Burst > 0 }

// Throttle limits mutating requests (bookings, completions, driver updates)
// per client using a token bucket kept in Redis. Reads are never limited.
type Throttle struct {
	client redis.Scripter
	cfg    RateConfig
	prefix string
	logger *zap.Logger
	script *redis.Script
}

// NewThrottle returns nil when client is nil, which disables throttling.
func NewThrottle(client redis.Scripter, cfg RateConfig, logger *zap.Logger) *Throttle {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		client: client,
		cfg:    cfg,
		prefix: "throttle",
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Middleware wraps next. Redis failures let the request through.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t == nil || !t.cfg.enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		scope := routeScope(r.URL.Path)
		allowed, retryAfter, err := t.take(r.Context(), scope, clientIdentifier(r))
		if err != nil {
			t.logger.Warn("throttle check failed", zap.String("scope", scope), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			throttled.WithLabelValues(scope).Inc()
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) take(ctx context.Context, scope, client string) (bool, time.Duration, error) {
	key := strings.Join([]string{t.prefix, scope, client}, ":")
	res, err := t.script.Run(ctx, t.client, []string{key}, time.Now().UnixMilli(), t.cfg.Rate, t.cfg.Burst).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("unexpected throttle reply")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, errors.New("unexpected throttle reply")
	}
	if allowed == 1 {
		return true, 0, nil
	}
	// Lua numbers come back truncated to integers, so the wait is in ms.
	waitMS, ok := values[1].(int64)
	if !ok {
		return false, 0, errors.New("unexpected throttle reply")
	}
	return false, time.Duration(waitMS) * time.Millisecond, nil
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// routeScope buckets /v1/rides/... and /v1/drivers/... separately.
func routeScope(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return "other"
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

const tokenBucketLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(burst / rate * 1000) + 1000)
return {allowed, wait}
`
