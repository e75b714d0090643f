package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraud"

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	RiskScores       prometheus.Histogram
	FactorDegraded   *prometheus.CounterVec
	RuleErrors       *prometheus.CounterVec
	AuditFailures    *prometheus.CounterVec
	AlertsPublished  *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	RateLimited      prometheus.Counter
}

// New creates and registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "total",
				Help:      "Total number of fraud analyses by decision",
			},
			[]string{"decision", "degraded"},
		),
		AnalysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "End-to-end fraud analysis latency",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
			},
		),
		RiskScores: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "risk_score",
				Help:      "Distribution of composite risk scores",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
			},
		),
		FactorDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "factor",
				Name:      "degraded_total",
				Help:      "Checker runs that produced a degraded outcome",
			},
			[]string{"factor"},
		),
		RuleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "evaluation_errors_total",
				Help:      "Rules skipped because they could not be evaluated",
			},
			[]string{"kind"},
		),
		AuditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "failures_total",
				Help:      "Failed attempts to persist analysis results",
			},
			[]string{"stage"},
		),
		AlertsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "published_total",
				Help:      "Fraud alerts forwarded to the alert pipeline",
			},
			[]string{"status"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}
}

func (m *Metrics) ObserveAnalysis(decision string, degraded bool, score float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	d := "false"
	if degraded {
		d = "true"
	}
	m.AnalysesTotal.WithLabelValues(decision, d).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
	m.RiskScores.Observe(score)
}

func (m *Metrics) Degraded(factor string) {
	if m == nil {
		return
	}
	m.FactorDegraded.WithLabelValues(factor).Inc()
}

func (m *Metrics) RuleError(kind string) {
	if m == nil {
		return
	}
	m.RuleErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) AuditFailure(stage string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) AlertPublished(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.AlertsPublished.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) RateLimit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
