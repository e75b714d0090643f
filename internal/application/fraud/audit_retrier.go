package fraud

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/pkg/metrics"
)

// AuditRetrierConfig bounds background persistence retries
type AuditRetrierConfig struct {
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
	// DrainTimeout bounds the final pass over the queue at shutdown
	DrainTimeout time.Duration
}

func DefaultAuditRetrierConfig() AuditRetrierConfig {
	return AuditRetrierConfig{
		QueueSize:      1000,
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		AttemptTimeout: time.Second,
		DrainTimeout:   2 * time.Second,
	}
}

// AuditRetrier re-appends results whose first write failed.
// The queue is bounded; when it is full the result is dropped and logged.
// Every result that is never written is counted as abandoned.
type AuditRetrier struct {
	store   fraud.ResultStore
	cfg     AuditRetrierConfig
	queue   chan *fraud.FraudAnalysisResult
	logger  *zap.Logger
	metrics *metrics.Metrics

	// stopMu orders Enqueue against the shutdown drain
	stopMu  sync.RWMutex
	stopped bool
}

func NewAuditRetrier(store fraud.ResultStore, cfg AuditRetrierConfig, logger *zap.Logger, m *metrics.Metrics) *AuditRetrier {
	def := DefaultAuditRetrierConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &AuditRetrier{
		store:   store,
		cfg:     cfg,
		queue:   make(chan *fraud.FraudAnalysisResult, cfg.QueueSize),
		logger:  logger.Named("audit_retrier"),
		metrics: m,
	}
}

// Enqueue schedules a result for another write attempt. It never blocks.
func (r *AuditRetrier) Enqueue(result *fraud.FraudAnalysisResult) bool {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()

	if r.stopped {
		r.abandon(result, "retrier stopped")
		return false
	}

	select {
	case r.queue <- result:
		return true
	default:
		r.metrics.AuditFailure("dropped")
		r.logger.Error("audit retry queue full, dropping result",
			zap.String("analysis_id", result.AnalysisID.String()),
			zap.String("transaction_id", result.TransactionID.String()),
		)
		return false
	}
}

// Start processes the queue until ctx is cancelled, then makes one last
// attempt per queued result within DrainTimeout.
func (r *AuditRetrier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case result := <-r.queue:
			r.retry(ctx, result)
		}
	}
}

func (r *AuditRetrier) drain() {
	r.stopMu.Lock()
	r.stopped = true
	r.stopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()

	var written, abandoned int
	for {
		select {
		case result := <-r.queue:
			if ctx.Err() == nil && r.attempt(ctx, result) == nil {
				written++
				continue
			}
			r.abandon(result, "shutdown")
			abandoned++
		default:
			if written > 0 || abandoned > 0 {
				r.logger.Info("audit retry queue drained",
					zap.Int("written", written),
					zap.Int("abandoned", abandoned),
				)
			}
			return
		}
	}
}

// Pending returns the number of queued results
func (r *AuditRetrier) Pending() int {
	return len(r.queue)
}

func (r *AuditRetrier) attempt(ctx context.Context, result *fraud.FraudAnalysisResult) error {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	err := r.store.Append(actx, result)
	if errors.Is(err, fraud.ErrAnalysisAlreadyExists) {
		return nil
	}
	return err
}

func (r *AuditRetrier) retry(ctx context.Context, result *fraud.FraudAnalysisResult) {
	backoff := r.cfg.InitialBackoff
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.attempt(ctx, result)
		if err == nil {
			r.logger.Info("audit write recovered",
				zap.String("analysis_id", result.AnalysisID.String()),
				zap.Int("attempt", attempt),
			)
			return
		}

		r.metrics.AuditFailure("retry")
		r.logger.Warn("audit write retry failed",
			zap.String("analysis_id", result.AnalysisID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			// Leave it for the shutdown drain
			select {
			case r.queue <- result:
			default:
				r.abandon(result, "queue full at shutdown")
			}
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	r.abandon(result, "attempts exhausted")
}

func (r *AuditRetrier) abandon(result *fraud.FraudAnalysisResult, why string) {
	r.metrics.AuditFailure("abandoned")
	r.logger.Error("giving up on audit write",
		zap.String("analysis_id", result.AnalysisID.String()),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.String("reason", why),
	)
}
