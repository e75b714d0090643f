package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FRAUD_SERVER_PORT
const EnvPrefix = "FRAUD"

// Load reads configuration from file and environment variables.
// Precedence: environment, then the file at configPath, then DefaultConfig.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	// Set defaults from DefaultConfig
	setDefaults(v, cfg)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file not found is ok - we use defaults and env vars
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal into config struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	// Server defaults
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.development", cfg.Server.Development)
	v.SetDefault("server.rate_limit_per_second", cfg.Server.RateLimitPerSecond)
	v.SetDefault("server.rate_limit_burst", cfg.Server.RateLimitBurst)
	v.SetDefault("server.trust_proxy_headers", cfg.Server.TrustProxyHeaders)

	// Database defaults
	v.SetDefault("database.enabled", cfg.Database.Enabled)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.name", cfg.Database.Name)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.auto_migrate", cfg.Database.AutoMigrate)

	// Redis defaults
	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.host", cfg.Redis.Host)
	v.SetDefault("redis.port", cfg.Redis.Port)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)
	v.SetDefault("redis.read_timeout", cfg.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", cfg.Redis.WriteTimeout)
	v.SetDefault("redis.profile_cache_ttl", cfg.Redis.ProfileCacheTTL)
	v.SetDefault("redis.device_cache_ttl", cfg.Redis.DeviceCacheTTL)

	// Kafka defaults
	v.SetDefault("kafka.enabled", cfg.Kafka.Enabled)
	v.SetDefault("kafka.brokers", cfg.Kafka.Brokers)
	v.SetDefault("kafka.alerts_topic", cfg.Kafka.AlertsTopic)

	v.SetDefault("geoip.database_path", cfg.GeoIP.DatabasePath)

	// Fraud defaults
	v.SetDefault("fraud.sla", cfg.Fraud.SLA)
	v.SetDefault("fraud.dependency_timeout", cfg.Fraud.DependencyTimeout)
	v.SetDefault("fraud.persist_timeout", cfg.Fraud.PersistTimeout)
	v.SetDefault("fraud.alert_timeout", cfg.Fraud.AlertTimeout)
	v.SetDefault("fraud.history_window_days", cfg.Fraud.HistoryWindowDays)
	v.SetDefault("fraud.alert_min_decision", cfg.Fraud.AlertMinDecision)
	v.SetDefault("fraud.weights.velocity", cfg.Fraud.Weights.Velocity)
	v.SetDefault("fraud.weights.location", cfg.Fraud.Weights.Location)
	v.SetDefault("fraud.weights.behavior", cfg.Fraud.Weights.Behavior)
	v.SetDefault("fraud.weights.device", cfg.Fraud.Weights.Device)
	v.SetDefault("fraud.weights.ml_model", cfg.Fraud.Weights.MLModel)
	v.SetDefault("fraud.weights.rules", cfg.Fraud.Weights.Rules)
	v.SetDefault("fraud.thresholds.challenge", cfg.Fraud.Thresholds.Challenge)
	v.SetDefault("fraud.thresholds.review", cfg.Fraud.Thresholds.Review)
	v.SetDefault("fraud.thresholds.decline", cfg.Fraud.Thresholds.Decline)
	v.SetDefault("fraud.thresholds.block_card", cfg.Fraud.Thresholds.BlockCard)
	v.SetDefault("fraud.max_hourly_count", cfg.Fraud.MaxHourlyCount)
	v.SetDefault("fraud.max_daily_count", cfg.Fraud.MaxDailyCount)
	v.SetDefault("fraud.max_hourly_amount", cfg.Fraud.MaxHourlyAmount)
	v.SetDefault("fraud.max_daily_amount", cfg.Fraud.MaxDailyAmount)
	v.SetDefault("fraud.max_travel_speed_kmh", cfg.Fraud.MaxTravelSpeedKmh)
	v.SetDefault("fraud.unusual_radius_km", cfg.Fraud.UnusualRadiusKm)

	// ML defaults
	v.SetDefault("ml.endpoint", cfg.ML.Endpoint)
	v.SetDefault("ml.path", cfg.ML.Path)
	v.SetDefault("ml.timeout", cfg.ML.Timeout)
	v.SetDefault("ml.failure_threshold", cfg.ML.FailureThreshold)
	v.SetDefault("ml.open_timeout", cfg.ML.OpenTimeout)
	v.SetDefault("ml.model_version", cfg.ML.ModelVersion)

	// Rules and audit defaults
	v.SetDefault("rules.refresh_interval", cfg.Rules.RefreshInterval)
	v.SetDefault("rules.max_staleness", cfg.Rules.MaxStaleness)
	v.SetDefault("rules.seed_defaults", cfg.Rules.SeedDefaults)
	v.SetDefault("audit.queue_size", cfg.Audit.QueueSize)
	v.SetDefault("audit.max_attempts", cfg.Audit.MaxAttempts)
	v.SetDefault("audit.initial_backoff", cfg.Audit.InitialBackoff)
	v.SetDefault("audit.attempt_timeout", cfg.Audit.AttemptTimeout)
	v.SetDefault("audit.drain_timeout", cfg.Audit.DrainTimeout)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
