package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"redemption-fraud-engine/internal/domain/fraud"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if c.Server.RateLimitPerSecond < 0 {
		return errors.New("rate_limit_per_second must not be negative")
	}

	if c.Fraud.SLA <= 0 {
		return errors.New("fraud.sla must be positive")
	}
	if c.Fraud.DependencyTimeout <= 0 || c.Fraud.DependencyTimeout >= c.Fraud.SLA {
		return errors.New("fraud.dependency_timeout must be positive and shorter than fraud.sla")
	}
	if c.ML.Timeout <= 0 || c.ML.Timeout >= c.Fraud.SLA {
		return errors.New("ml.timeout must be positive and shorter than fraud.sla")
	}
	if c.Fraud.HistoryWindowDays <= 0 {
		return errors.New("fraud.history_window_days must be positive")
	}
	if fraud.Decision(c.Fraud.AlertMinDecision).Severity() < 0 {
		return fmt.Errorf("fraud.alert_min_decision %q is not a decision", c.Fraud.AlertMinDecision)
	}

	if err := c.Fraud.ScoreWeights().Validate(); err != nil {
		return fmt.Errorf("fraud.weights: %w", err)
	}
	if err := c.Fraud.DecisionThresholds().Validate(); err != nil {
		return fmt.Errorf("fraud.thresholds: %w", err)
	}

	if c.Fraud.MaxHourlyCount <= 0 || c.Fraud.MaxDailyCount <= 0 {
		return errors.New("velocity count limits must be positive")
	}
	for name, raw := range map[string]string{
		"max_hourly_amount": c.Fraud.MaxHourlyAmount,
		"max_daily_amount":  c.Fraud.MaxDailyAmount,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("fraud.%s must be a positive amount", name)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	return nil
}

// Mode describes how the engine is wired: "full" with Postgres, "standalone" without
func (c *Config) Mode() string {
	if c.Database.Enabled {
		return "full"
	}
	return "standalone"
}
