package fraud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/infrastructure/ml"
	"redemption-fraud-engine/internal/pkg/metrics"
)

// Failure reasons recorded on results that used a safe default
const (
	FailureSLAExceeded        = "SLA_EXCEEDED"
	FailureContextUnavailable = "CONTEXT_UNAVAILABLE"
)

func tracer() trace.Tracer {
	return otel.Tracer("redemption-fraud-engine/application/fraud")
}

// AnalyzerConfig holds the analyzer's time budgets and alerting threshold
type AnalyzerConfig struct {
	// SLA bounds the whole analysis
	SLA time.Duration
	// PersistTimeout bounds the first audit write. Within the call it is
	// further capped by what remains of the SLA; with nothing left the
	// write moves to the background.
	PersistTimeout time.Duration
	// AlertTimeout bounds one alert publish
	AlertTimeout time.Duration
	// AlertMinDecision is the least severe decision that is forwarded to alerting
	AlertMinDecision fraud.Decision
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SLA:              200 * time.Millisecond,
		PersistTimeout:   100 * time.Millisecond,
		AlertTimeout:     2 * time.Second,
		AlertMinDecision: fraud.DecisionReview,
	}
}

// Analyzer is the single entry point of the engine.
// It builds the context once, runs every checker concurrently against it and
// joins whatever finished within the SLA.
type Analyzer struct {
	builder    *ContextBuilder
	checkers   []fraud.Checker
	aggregator *fraud.Aggregator

	results fraud.ResultStore
	retrier *AuditRetrier
	alerts  fraud.AlertPublisher
	devices fraud.DeviceRecorder
	history fraud.TransactionRecorder

	cfg     AnalyzerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// background tracks post-analysis work
	background sync.WaitGroup
}

// AnalyzerOption configures optional collaborators
type AnalyzerOption func(*Analyzer)

// WithAlertPublisher forwards results at or above AlertMinDecision
func WithAlertPublisher(p fraud.AlertPublisher) AnalyzerOption {
	return func(a *Analyzer) { a.alerts = p }
}

// WithDeviceRecorder records the device of approved transactions
func WithDeviceRecorder(r fraud.DeviceRecorder) AnalyzerOption {
	return func(a *Analyzer) { a.devices = r }
}

// WithHistoryRecorder adds redemptions that were not halted to the user's history
func WithHistoryRecorder(r fraud.TransactionRecorder) AnalyzerOption {
	return func(a *Analyzer) { a.history = r }
}

// WithAuditRetrier retries failed audit writes in the background
func WithAuditRetrier(r *AuditRetrier) AnalyzerOption {
	return func(a *Analyzer) { a.retrier = r }
}

// WithMetrics records Prometheus metrics
func WithMetrics(m *metrics.Metrics) AnalyzerOption {
	return func(a *Analyzer) { a.metrics = m }
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(
	builder *ContextBuilder,
	checkers []fraud.Checker,
	aggregator *fraud.Aggregator,
	results fraud.ResultStore,
	cfg AnalyzerConfig,
	logger *zap.Logger,
	opts ...AnalyzerOption,
) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.SLA <= 0 {
		cfg.SLA = def.SLA
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = def.AlertTimeout
	}
	if cfg.AlertMinDecision == "" {
		cfg.AlertMinDecision = def.AlertMinDecision
	}

	a := &Analyzer{
		builder:    builder,
		checkers:   checkers,
		aggregator: aggregator,
		results:    results,
		cfg:        cfg,
		logger:     logger.Named("analyzer"),
		tracer:     tracer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeTransaction scores one redemption attempt.
// A result is always returned. The error is non-nil only for a
// *fraud.FatalContextError, in which case the result is a REVIEW default.
func (a *Analyzer) AnalyzeTransaction(ctx context.Context, tx fraud.Transaction) (*fraud.FraudAnalysisResult, error) {
	startTime := time.Now()

	ctx, span := a.tracer.Start(ctx, "fraud.AnalyzeTransaction", trace.WithAttributes(
		attribute.String("transaction.id", tx.ID.String()),
		attribute.String("user.id", tx.UserID.String()),
	))
	defer span.End()

	slaCtx, cancel := context.WithTimeout(ctx, a.cfg.SLA)
	defer cancel()

	ac, err := a.builder.Build(slaCtx, tx)
	if err != nil {
		var fatal *fraud.FatalContextError
		if !errors.As(err, &fatal) {
			fatal = &fraud.FatalContextError{TransactionID: tx.ID.String(), Err: err}
		}
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "context unavailable")
		a.logger.Error("analysis context unavailable, defaulting to review",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("user_id", tx.UserID.String()),
			zap.Error(fatal),
		)

		score, _ := a.aggregator.Aggregate(nil)
		result := fraud.NewFraudAnalysisResult(tx, score, fraud.DecisionReview, nil)
		result.Degraded = true
		result.FailureReason = FailureContextUnavailable
		a.finish(ctx, nil, result, startTime)
		return result, fatal
	}

	factors, slaExceeded := a.runCheckers(slaCtx, ac)
	score, decision := a.aggregator.Aggregate(factors)

	result := fraud.NewFraudAnalysisResult(tx, score, decision, factors)
	result.Degraded = len(ac.Degraded) > 0
	for _, f := range factors {
		if f.IsDegraded() {
			result.Degraded = true
		}
		if p, ok := ml.PredictionFrom(f); ok {
			prediction := p
			result.Prediction = &prediction
		}
	}

	if slaExceeded {
		result.Degraded = true
		result.FailureReason = FailureSLAExceeded
		// Fail open to review, but never below what the partial evidence already shows
		if decision.Severity() < fraud.DecisionReview.Severity() {
			result.Decision = fraud.DecisionReview
		}
		a.logger.Warn("analysis exceeded SLA, using partial breakdown",
			zap.String("transaction_id", tx.ID.String()),
			zap.Duration("sla", a.cfg.SLA),
		)
	}

	span.SetAttributes(
		attribute.String("decision", string(result.Decision)),
		attribute.Float64("risk_score", result.RiskScore.Composite.InexactFloat64()),
	)

	// History keeps the resolved location so later travel checks can use it
	recorded := tx
	recorded.Location = ac.EffectiveLocation()
	a.finish(ctx, &recorded, result, startTime)
	return result, nil
}

// Wait blocks until post-analysis background work has completed
func (a *Analyzer) Wait() {
	a.background.Wait()
}

type indexedResult struct {
	index  int
	result fraud.FactorResult
}

// runCheckers fans the checkers out and joins them. Checkers still running
// when ctx expires are reported as degraded.
func (a *Analyzer) runCheckers(ctx context.Context, ac *fraud.AnalysisContext) ([]fraud.FactorResult, bool) {
	n := len(a.checkers)
	out := make(chan indexedResult, n)

	p := pool.New().WithMaxGoroutines(max(n, 1))
	for i, checker := range a.checkers {
		p.Go(func() {
			out <- indexedResult{index: i, result: a.runChecker(ctx, checker, ac)}
		})
	}
	go p.Wait()

	results := make([]fraud.FactorResult, n)
	done := make([]bool, n)
	received := 0
	slaExceeded := false

collect:
	for received < n {
		select {
		case r := <-out:
			results[r.index] = r.result
			done[r.index] = true
			received++
		case <-ctx.Done():
			slaExceeded = true
			break collect
		}
	}

	// Pick up anything that finished alongside the deadline
	if slaExceeded {
	drain:
		for {
			select {
			case r := <-out:
				results[r.index] = r.result
				done[r.index] = true
			default:
				break drain
			}
		}
	}

	for i, ok := range done {
		if !ok {
			factor := a.checkers[i].Factor()
			a.metrics.Degraded(string(factor))
			results[i] = fraud.DegradedResult(factor, "checker did not finish within SLA", ctx.Err())
		}
	}
	return results, slaExceeded
}

// runChecker isolates one checker: a panic becomes a degraded result
func (a *Analyzer) runChecker(ctx context.Context, checker fraud.Checker, ac *fraud.AnalysisContext) (result fraud.FactorResult) {
	factor := checker.Factor()
	ctx, span := a.tracer.Start(ctx, "fraud.Check."+string(factor))
	defer span.End()

	var pc panics.Catcher
	pc.Try(func() {
		result = checker.Check(ctx, ac)
	})

	if recovered := pc.Recovered(); recovered != nil {
		err := recovered.AsError()
		span.RecordError(err)
		a.logger.Error("checker panicked",
			zap.String("factor", string(factor)),
			zap.String("transaction_id", ac.Transaction.ID.String()),
			zap.Error(err),
		)
		result = fraud.DegradedResult(factor, "checker panicked", fmt.Errorf("%s checker: %w", factor, err))
	}

	if result.Factor == "" {
		result.Factor = factor
	}
	if result.Outcome == nil {
		result.Outcome = fraud.NoViolation{}
	}
	if result.IsDegraded() {
		a.metrics.Degraded(string(factor))
	}
	return result
}

// finish stamps timing, persists the result and kicks off post-analysis work
func (a *Analyzer) finish(ctx context.Context, tx *fraud.Transaction, result *fraud.FraudAnalysisResult, startTime time.Time) {
	elapsed := time.Since(startTime)
	result.ProcessingTimeMs = elapsed.Milliseconds()

	a.metrics.ObserveAnalysis(string(result.Decision), result.Degraded, result.RiskScore.Composite.InexactFloat64(), elapsed)

	// Persistence and alerting must outlive the caller's deadline
	bg := context.WithoutCancel(ctx)

	// The first write only gets what is left of the SLA
	if budget := min(a.cfg.PersistTimeout, a.cfg.SLA-time.Since(startTime)); budget >= minPersistBudget {
		a.persist(bg, result, budget)
	} else {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			a.persist(bg, result, a.cfg.PersistTimeout)
		}()
	}

	if a.alerts != nil && result.Decision.Severity() >= a.cfg.AlertMinDecision.Severity() {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			a.publishAlert(bg, result)
		}()
	}

	if a.devices != nil && result.Decision == fraud.DecisionApprove && result.FailureReason == "" {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			a.recordDevice(bg, result)
		}()
	}

	if a.history != nil && tx != nil && !result.Decision.HaltsTransaction() {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			a.recordHistory(bg, *tx)
		}()
	}

	a.logger.Info("transaction analyzed",
		zap.String("analysis_id", result.AnalysisID.String()),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.String("decision", string(result.Decision)),
		zap.String("risk_score", result.RiskScore.Composite.String()),
		zap.Bool("degraded", result.Degraded),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
}

// minPersistBudget is the smallest SLA remainder worth spending on a synchronous write
const minPersistBudget = 5 * time.Millisecond

func (a *Analyzer) persist(ctx context.Context, result *fraud.FraudAnalysisResult, timeout time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.results.Append(pctx, result); err != nil {
		a.metrics.AuditFailure("append")
		a.logger.Error("failed to persist analysis result",
			zap.String("analysis_id", result.AnalysisID.String()),
			zap.String("transaction_id", result.TransactionID.String()),
			zap.Error(err),
		)
		if a.retrier != nil {
			a.retrier.Enqueue(result)
		}
	}
}

func (a *Analyzer) publishAlert(ctx context.Context, result *fraud.FraudAnalysisResult) {
	actx, cancel := context.WithTimeout(ctx, a.cfg.AlertTimeout)
	defer cancel()

	if err := a.alerts.Publish(actx, result); err != nil {
		a.metrics.AlertPublished(false)
		a.logger.Warn("failed to publish fraud alert",
			zap.String("analysis_id", result.AnalysisID.String()),
			zap.Error(err),
		)
		return
	}
	a.metrics.AlertPublished(true)
}

// recordDevice remembers the fingerprint of an approved redemption
func (a *Analyzer) recordDevice(ctx context.Context, result *fraud.FraudAnalysisResult) {
	device, ok := result.Factor(fraud.FactorDevice)
	if !ok {
		return
	}
	fp, _ := device.Detail["fingerprint"].(string)
	if fp == "" {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.AlertTimeout)
	defer cancel()

	record := fraud.DeviceRecord{Fingerprint: fp, FirstSeen: result.Timestamp}
	if err := a.devices.RecordDevice(rctx, result.UserID, record); err != nil {
		a.logger.Warn("failed to record device",
			zap.String("user_id", result.UserID.String()),
			zap.Error(err),
		)
	}
}

// MaxBatchSize caps the number of transactions in one batch request
const MaxBatchSize = 100

// BatchItem is the outcome for one transaction of a batch
type BatchItem struct {
	Result *fraud.FraudAnalysisResult
	Err    error
}

// BatchSummary counts decisions across a batch
type BatchSummary struct {
	Total      int
	Degraded   int
	Failed     int
	ByDecision map[fraud.Decision]int
}

// AnalyzeBatch analyzes transactions concurrently. Items keep the input order.
// Every transaction gets its own SLA; the batch as a whole is bounded only by ctx.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, txs []fraud.Transaction) ([]BatchItem, BatchSummary, error) {
	if len(txs) == 0 || len(txs) > MaxBatchSize {
		return nil, BatchSummary{}, fmt.Errorf("%w: batch size must be between 1 and %d", fraud.ErrInvalidTransaction, MaxBatchSize)
	}

	items := make([]BatchItem, len(txs))
	p := pool.New().WithMaxGoroutines(min(len(txs), 16))
	for i, tx := range txs {
		p.Go(func() {
			result, err := a.AnalyzeTransaction(ctx, tx)
			items[i] = BatchItem{Result: result, Err: err}
		})
	}
	p.Wait()

	summary := BatchSummary{Total: len(items), ByDecision: make(map[fraud.Decision]int)}
	for _, item := range items {
		if item.Err != nil {
			summary.Failed++
		}
		if item.Result == nil {
			continue
		}
		summary.ByDecision[item.Result.Decision]++
		if item.Result.Degraded {
			summary.Degraded++
		}
	}
	return items, summary, nil
}

// GetAnalysis returns a stored analysis
func (a *Analyzer) GetAnalysis(ctx context.Context, analysisID uuid.UUID) (*fraud.FraudAnalysisResult, error) {
	return a.results.GetByID(ctx, analysisID)
}

// ListAnalyses returns every stored analysis of a transaction, newest first
func (a *Analyzer) ListAnalyses(ctx context.Context, transactionID uuid.UUID) ([]*fraud.FraudAnalysisResult, error) {
	return a.results.ListByTransaction(ctx, transactionID)
}

func (a *Analyzer) recordHistory(ctx context.Context, tx fraud.Transaction) {
	rctx, cancel := context.WithTimeout(ctx, a.cfg.AlertTimeout)
	defer cancel()

	if err := a.history.RecordTransaction(rctx, tx); err != nil {
		a.logger.Warn("failed to record transaction history",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
	}
}
