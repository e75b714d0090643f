package config

import (
	"time"

	"github.com/shopspring/decimal"

	"redemption-fraud-engine/internal/domain/fraud"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip"`
	Fraud    FraudConfig    `mapstructure:"fraud"`
	ML       MLConfig       `mapstructure:"ml"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Development     bool          `mapstructure:"development"`
	// RateLimitPerSecond throttles the analysis endpoints per caller; 0 disables it
	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
	// TrustProxyHeaders keys the limiter by X-User-ID / X-Forwarded-For
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// DatabaseConfig holds PostgreSQL configuration.
// When disabled the engine runs on in-memory stores.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl"`
	DeviceCacheTTL  time.Duration `mapstructure:"device_cache_ttl"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	AlertsTopic string   `mapstructure:"alerts_topic"`
}

// GeoIPConfig points at a MaxMind city database. An empty path disables IP enrichment.
type GeoIPConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// FraudConfig holds fraud detection configuration
type FraudConfig struct {
	// SLA bounds one analysis end to end
	SLA               time.Duration `mapstructure:"sla"`
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
	AlertTimeout      time.Duration `mapstructure:"alert_timeout"`
	HistoryWindowDays int           `mapstructure:"history_window_days"`
	// AlertMinDecision is the least severe decision forwarded as an alert
	AlertMinDecision string `mapstructure:"alert_min_decision"`

	Weights    WeightsConfig    `mapstructure:"weights"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`

	// Velocity limits
	MaxHourlyCount  int    `mapstructure:"max_hourly_count"`
	MaxDailyCount   int    `mapstructure:"max_daily_count"`
	MaxHourlyAmount string `mapstructure:"max_hourly_amount"` // String for YAML compatibility
	MaxDailyAmount  string `mapstructure:"max_daily_amount"`

	// Location settings
	MaxTravelSpeedKmh float64 `mapstructure:"max_travel_speed_kmh"`
	UnusualRadiusKm   float64 `mapstructure:"unusual_radius_km"`
}

// WeightsConfig are the per-factor score weights; they must sum to 1
type WeightsConfig struct {
	Velocity float64 `mapstructure:"velocity"`
	Location float64 `mapstructure:"location"`
	Behavior float64 `mapstructure:"behavior"`
	Device   float64 `mapstructure:"device"`
	MLModel  float64 `mapstructure:"ml_model"`
	Rules    float64 `mapstructure:"rules"`
}

// ThresholdsConfig are the lower bounds of the decision bands on the 0-100 scale
type ThresholdsConfig struct {
	Challenge float64 `mapstructure:"challenge"`
	Review    float64 `mapstructure:"review"`
	Decline   float64 `mapstructure:"decline"`
	BlockCard float64 `mapstructure:"block_card"`
}

// ScoreWeights converts the configured weights to the domain type
func (c *FraudConfig) ScoreWeights() fraud.ScoreWeights {
	return fraud.ScoreWeights{
		Velocity: decimal.NewFromFloat(c.Weights.Velocity),
		Location: decimal.NewFromFloat(c.Weights.Location),
		Behavior: decimal.NewFromFloat(c.Weights.Behavior),
		Device:   decimal.NewFromFloat(c.Weights.Device),
		MLModel:  decimal.NewFromFloat(c.Weights.MLModel),
		Rules:    decimal.NewFromFloat(c.Weights.Rules),
	}
}

// DecisionThresholds converts the configured bands to the domain type
func (c *FraudConfig) DecisionThresholds() fraud.DecisionThresholds {
	return fraud.DecisionThresholds{
		Challenge: decimal.NewFromFloat(c.Thresholds.Challenge),
		Review:    decimal.NewFromFloat(c.Thresholds.Review),
		Decline:   decimal.NewFromFloat(c.Thresholds.Decline),
		BlockCard: decimal.NewFromFloat(c.Thresholds.BlockCard),
	}
}

// VelocityLimits returns the velocity limits, falling back to defaults for unparsable amounts
func (c *FraudConfig) VelocityLimits() fraud.VelocityLimits {
	def := fraud.DefaultVelocityLimits()
	limits := fraud.VelocityLimits{
		MaxHourlyCount:  c.MaxHourlyCount,
		MaxDailyCount:   c.MaxDailyCount,
		MaxHourlyAmount: def.MaxHourlyAmount,
		MaxDailyAmount:  def.MaxDailyAmount,
	}
	if d, err := decimal.NewFromString(c.MaxHourlyAmount); err == nil {
		limits.MaxHourlyAmount = d
	}
	if d, err := decimal.NewFromString(c.MaxDailyAmount); err == nil {
		limits.MaxDailyAmount = d
	}
	return limits
}

// LocationLimits returns the location detector settings
func (c *FraudConfig) LocationLimits() fraud.LocationLimits {
	limits := fraud.DefaultLocationLimits()
	if c.MaxTravelSpeedKmh > 0 {
		limits.MaxTravelSpeedKmh = c.MaxTravelSpeedKmh
	}
	if c.UnusualRadiusKm > 0 {
		limits.UnusualRadiusKm = c.UnusualRadiusKm
	}
	return limits
}

// MLConfig holds ML model configuration.
// With an empty Endpoint the built-in logistic model is used.
type MLConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	Path             string        `mapstructure:"path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	ModelVersion     string        `mapstructure:"model_version"`
}

// RulesConfig holds rule registry configuration
type RulesConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
	SeedDefaults    bool          `mapstructure:"seed_defaults"`
}

// AuditConfig controls retries of failed result writes
type AuditConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Database: DatabaseConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			User:            "fraud_user",
			Password:        "",
			Name:            "redemption_fraud",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            6379,
			Password:        "",
			DB:              0,
			PoolSize:        10,
			ReadTimeout:     50 * time.Millisecond,
			WriteTimeout:    50 * time.Millisecond,
			ProfileCacheTTL: 5 * time.Minute,
			DeviceCacheTTL:  10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			Brokers:     []string{"localhost:9092"},
			AlertsTopic: "fraud.alerts",
		},
		Fraud: FraudConfig{
			SLA:               200 * time.Millisecond,
			DependencyTimeout: 100 * time.Millisecond,
			PersistTimeout:    100 * time.Millisecond,
			AlertTimeout:      2 * time.Second,
			HistoryWindowDays: 30,
			AlertMinDecision:  string(fraud.DecisionReview),
			Weights: WeightsConfig{
				Velocity: 0.20,
				Location: 0.25,
				Behavior: 0.20,
				Device:   0.15,
				MLModel:  0.15,
				Rules:    0.05,
			},
			Thresholds: ThresholdsConfig{
				Challenge: 30,
				Review:    60,
				Decline:   80,
				BlockCard: 95,
			},
			MaxHourlyCount:    20,
			MaxDailyCount:     50,
			MaxHourlyAmount:   "5000",
			MaxDailyAmount:    "10000",
			MaxTravelSpeedKmh: 1000,
			UnusualRadiusKm:   50,
		},
		ML: MLConfig{
			Endpoint:         "",
			Path:             "/v1/predict",
			Timeout:          80 * time.Millisecond,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			ModelVersion:     "local-logit-v1",
		},
		Rules: RulesConfig{
			RefreshInterval: 30 * time.Second,
			MaxStaleness:    2 * time.Minute,
			SeedDefaults:    true,
		},
		Audit: AuditConfig{
			QueueSize:      1024,
			MaxAttempts:    5,
			InitialBackoff: 200 * time.Millisecond,
			AttemptTimeout: 2 * time.Second,
			DrainTimeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
