package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"redemption-fraud-engine/internal/application/dto"
	appfraud "redemption-fraud-engine/internal/application/fraud"
	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/interfaces/http/handler"
	"redemption-fraud-engine/internal/pkg/metrics"
)

type approveAll struct{}

func (approveAll) AnalyzeTransaction(_ context.Context, tx fraud.Transaction) (*fraud.FraudAnalysisResult, error) {
	return fraud.NewFraudAnalysisResult(tx, fraud.RiskScore{Composite: decimal.Zero}, fraud.DecisionApprove, nil), nil
}

func (approveAll) AnalyzeBatch(context.Context, []fraud.Transaction) ([]appfraud.BatchItem, appfraud.BatchSummary, error) {
	return nil, appfraud.BatchSummary{}, nil
}

func (approveAll) GetAnalysis(context.Context, uuid.UUID) (*fraud.FraudAnalysisResult, error) {
	panic("lookup exploded")
}

func (approveAll) ListAnalyses(context.Context, uuid.UUID) ([]*fraud.FraudAnalysisResult, error) {
	return nil, nil
}

// budgetAllower allows a fixed number of calls per key
type budgetAllower struct {
	mu     sync.Mutex
	budget int
	used   map[string]int
	err    error
}

func (b *budgetAllower) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used[key]++
	if b.used[key] > b.budget {
		return &redis_rate.Result{Limit: limit, Allowed: 0, Remaining: 0, RetryAfter: 1500 * time.Millisecond}, nil
	}
	return &redis_rate.Result{Limit: limit, Allowed: 1, Remaining: b.budget - b.used[key]}, nil
}

func newTestRouter(t *testing.T, limiter *RateLimiter, m *metrics.Metrics) *Router {
	logger := zaptest.NewLogger(t)
	fraudHandler := handler.NewFraudHandler(approveAll{}, dto.NewValidator(), logger)
	health := handler.NewHealthHandler("test", "standalone", nil)
	return NewRouter(fraudHandler, nil, health, nil, Options{Limiter: limiter, Metrics: m, Logger: logger})
}

func analyzeRequest(user string) *http.Request {
	body := `{"transaction_id":"` + uuid.NewString() + `","user_id":"` + uuid.NewString() +
		`","amount":"10","currency":"USD","merchant_category":"food"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fraud/analyze", strings.NewReader(body))
	req.Header.Set("X-User-ID", user)
	return req
}

func TestRouter_SecurityHeadersAndRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := newTestRouter(t, nil, m)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, analyzeRequest("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST /api/v1/fraud/analyze", "200")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fraud/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/fraud/analyze", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	r := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fraud/analyses/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestRateLimiter_RejectsOverBudget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	allower := &budgetAllower{budget: 2, used: map[string]int{}}
	r := newTestRouter(t, NewRateLimiter(allower, RateLimitConfig{PerSecond: 2, Burst: 2, TrustProxyHeaders: true}, m, zaptest.NewLogger(t)), m)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, analyzeRequest("u1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, analyzeRequest("u1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, analyzeRequest("u2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	allower := &budgetAllower{err: errors.New("redis down")}
	r := newTestRouter(t, NewRateLimiter(allower, RateLimitConfig{PerSecond: 1, Burst: 1}, nil, zaptest.NewLogger(t)), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, analyzeRequest("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	assert.Equal(t, "ip:198.51.100.4", callerKey(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", callerKey(req, true))

	req.Header.Set("X-User-ID", "abc")
	assert.Equal(t, "user:abc", callerKey(req, true))

	// Without a trusted proxy the headers are ignored
	assert.Equal(t, "ip:198.51.100.4", callerKey(req, false))
}

func TestRateLimiter_IgnoresSpoofedHeadersByDefault(t *testing.T) {
	allower := &budgetAllower{budget: 1, used: map[string]int{}}
	r := newTestRouter(t, NewRateLimiter(allower, RateLimitConfig{PerSecond: 1, Burst: 1}, nil, zaptest.NewLogger(t)), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, analyzeRequest("u1"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Rotating the identity headers does not buy a fresh budget
	req := analyzeRequest("u2")
	req.Header.Set("X-Forwarded-For", "203.0.113.77")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
