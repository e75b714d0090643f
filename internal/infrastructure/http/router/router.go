package router

import (
	"net/http"

	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/interfaces/http/handler"
	"redemption-fraud-engine/internal/pkg/metrics"
)

// Options configures the middleware around the routes
type Options struct {
	// Development relaxes the security headers for local use
	Development bool
	// Limiter throttles the analysis endpoints. nil disables rate limiting.
	Limiter *RateLimiter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Router holds all HTTP handlers
type Router struct {
	mux            *http.ServeMux
	fraudHandler   *handler.FraudHandler
	ruleHandler    *handler.RuleHandler
	healthHandler  *handler.HealthHandler
	metricsHandler http.Handler
	opts           Options
	handler        http.Handler
}

// NewRouter creates a new router with all routes configured
func NewRouter(
	fraudHandler *handler.FraudHandler,
	ruleHandler *handler.RuleHandler,
	healthHandler *handler.HealthHandler,
	metricsHandler http.Handler,
	opts Options,
) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Router{
		mux:            http.NewServeMux(),
		fraudHandler:   fraudHandler,
		ruleHandler:    ruleHandler,
		healthHandler:  healthHandler,
		metricsHandler: metricsHandler,
		opts:           opts,
	}
	r.setupRoutes()
	r.handler = r.wrap(r.mux)
	return r
}

func (r *Router) setupRoutes() {
	// Health endpoints
	r.handle("GET /health", http.HandlerFunc(r.healthHandler.Health))
	r.handle("GET /ready", http.HandlerFunc(r.healthHandler.Ready))
	r.handle("GET /live", http.HandlerFunc(r.healthHandler.Live))
	if r.metricsHandler != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler)
	}

	// Fraud analysis endpoints
	r.handle("POST /api/v1/fraud/analyze", r.limit(r.fraudHandler.AnalyzeTransaction))
	r.handle("POST /api/v1/fraud/analyze/batch", r.limit(r.fraudHandler.BatchAnalyze))

	// Audit lookups
	r.handle("GET /api/v1/fraud/analyses/{id}", http.HandlerFunc(r.fraudHandler.GetAnalysis))
	r.handle("GET /api/v1/fraud/transactions/{id}/analyses", http.HandlerFunc(r.fraudHandler.ListTransactionAnalyses))

	// Fraud rules
	if r.ruleHandler != nil {
		r.handle("GET /api/v1/fraud/rules", http.HandlerFunc(r.ruleHandler.ListRules))
		r.handle("POST /api/v1/fraud/rules", http.HandlerFunc(r.ruleHandler.CreateRule))
		r.handle("DELETE /api/v1/fraud/rules/{id}", http.HandlerFunc(r.ruleHandler.DisableRule))
	}
}

// handle registers h and counts its responses under the route pattern
func (r *Router) handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, instrument(pattern, r.opts.Metrics, h))
}

func (r *Router) limit(h http.HandlerFunc) http.Handler {
	if r.opts.Limiter == nil {
		return h
	}
	return r.opts.Limiter.Middleware(h)
}

// wrap applies the middleware chain, outermost first: recovery, access log, security headers, CORS
func (r *Router) wrap(next http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		STSSeconds:            31536000,
		IsDevelopment:         r.opts.Development,
	})

	h := cors(next)
	h = secureMiddleware.Handler(h)
	h = accessLog(r.opts.Logger, h)
	return recoverer(r.opts.Logger, h)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r
}
