package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// DefaultTopic receives fraud alerts unless configured otherwise
const DefaultTopic = "fraud.alerts"

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// messageWriter is the part of kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertEvent is the payload published for a noteworthy analysis
type AlertEvent struct {
	EventID          uuid.UUID          `json:"event_id"`
	AnalysisID       uuid.UUID          `json:"analysis_id"`
	TransactionID    uuid.UUID          `json:"transaction_id"`
	UserID           uuid.UUID          `json:"user_id"`
	Decision         fraud.Decision     `json:"decision"`
	RiskScore        string             `json:"risk_score"`
	Reasons          []fraud.ReasonCode `json:"reasons"`
	Degraded         bool               `json:"degraded"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	AnalyzedAt       time.Time          `json:"analyzed_at"`
	PublishedAt      time.Time          `json:"published_at"`
}

// AlertPublisher publishes fraud alerts to a Kafka topic, keyed by user
// so that alerts for one user stay ordered within a partition.
type AlertPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

// NewAlertPublisher creates a Kafka-backed alert publisher
func NewAlertPublisher(cfg Config, logger *zap.Logger) *AlertPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  cfg.MaxAttempts,
	}
	return newAlertPublisher(writer, cfg.Topic, logger)
}

func newAlertPublisher(writer messageWriter, topic string, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{writer: writer, topic: topic, logger: logger.Named("alert_publisher"), now: time.Now}
}

// Publish sends one alert for the analysis result
func (p *AlertPublisher) Publish(ctx context.Context, result *fraud.FraudAnalysisResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	now := p.now().UTC()
	event := NewAlertEvent(result, now)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(result.UserID.String()),
		Value: payload,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("fraud.alert")},
			{Key: "decision", Value: []byte(result.Decision)},
			{Key: "timestamp", Value: []byte(now.Format(time.RFC3339))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish fraud alert",
			zap.String("topic", p.topic),
			zap.String("analysis_id", result.AnalysisID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Debug("published fraud alert",
		zap.String("topic", p.topic),
		zap.String("analysis_id", result.AnalysisID.String()),
		zap.String("decision", string(result.Decision)),
	)
	return nil
}

// Close flushes pending messages and closes the writer
func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

// NewAlertEvent builds the alert payload, collecting reasons from every factor
func NewAlertEvent(result *fraud.FraudAnalysisResult, publishedAt time.Time) AlertEvent {
	seen := make(map[fraud.ReasonCode]bool)
	reasons := make([]fraud.ReasonCode, 0)
	for _, f := range result.Factors {
		for _, r := range f.Reasons() {
			if !seen[r] {
				seen[r] = true
				reasons = append(reasons, r)
			}
		}
	}

	return AlertEvent{
		EventID:          uuid.New(),
		AnalysisID:       result.AnalysisID,
		TransactionID:    result.TransactionID,
		UserID:           result.UserID,
		Decision:         result.Decision,
		RiskScore:        result.RiskScore.Composite.StringFixed(2),
		Reasons:          reasons,
		Degraded:         result.Degraded,
		FailureReason:    result.FailureReason,
		ProcessingTimeMs: result.ProcessingTimeMs,
		AnalyzedAt:       result.Timestamp,
		PublishedAt:      publishedAt,
	}
}
