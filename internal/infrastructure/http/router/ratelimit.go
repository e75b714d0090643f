package router

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/pkg/metrics"
)

// Allower decides whether one more request fits a key's budget.
// *redis_rate.Limiter satisfies it.
type Allower interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimitConfig sets the per-caller budget
type RateLimitConfig struct {
	PerSecond int
	Burst     int
	// TrustProxyHeaders keys callers by X-User-ID or X-Forwarded-For.
	// Enable it only behind a proxy that sets those headers; otherwise a
	// client could rotate them to escape its budget.
	TrustProxyHeaders bool
}

// RateLimiter throttles callers with a Redis-backed GCRA limiter.
// Callers are identified by the connection's IP unless proxy headers are trusted.
type RateLimiter struct {
	allower    Allower
	limit      redis_rate.Limit
	trustProxy bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRateLimiter creates a limiter allowing cfg.PerSecond requests with burst cfg.Burst
func NewRateLimiter(allower Allower, cfg RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimiter {
	limit := redis_rate.PerSecond(cfg.PerSecond)
	if cfg.Burst > 0 {
		limit.Burst = cfg.Burst
	}
	return &RateLimiter{
		allower:    allower,
		limit:      limit,
		trustProxy: cfg.TrustProxyHeaders,
		metrics:    m,
		logger:     logger.Named("rate_limiter"),
	}
}

// Middleware rejects requests over budget with 429. If Redis is unavailable
// the request is let through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := "ratelimit:analyze:" + callerKey(req, l.trustProxy)

		res, err := l.allower.Allow(req.Context(), key, l.limit)
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, req)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit.Rate))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			l.metrics.RateLimit()
			retry := int(res.RetryAfter / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, req)
	})
}

func callerKey(req *http.Request, trustProxy bool) string {
	if trustProxy {
		if user := strings.TrimSpace(req.Header.Get("X-User-ID")); user != "" {
			return "user:" + user
		}
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return "ip:" + ip
			}
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return "ip:" + req.RemoteAddr
	}
	return "ip:" + host
}
