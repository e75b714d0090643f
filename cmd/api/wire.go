package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/application/dto"
	fraudapp "redemption-fraud-engine/internal/application/fraud"
	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/infrastructure/cache/redis"
	"redemption-fraud-engine/internal/infrastructure/database/postgres"
	"redemption-fraud-engine/internal/infrastructure/geoip"
	"redemption-fraud-engine/internal/infrastructure/http/router"
	"redemption-fraud-engine/internal/infrastructure/memory"
	"redemption-fraud-engine/internal/infrastructure/messaging/kafka"
	"redemption-fraud-engine/internal/infrastructure/ml"
	"redemption-fraud-engine/internal/infrastructure/rules"
	"redemption-fraud-engine/internal/interfaces/http/handler"
	"redemption-fraud-engine/internal/pkg/config"
	"redemption-fraud-engine/internal/pkg/metrics"
)

// stores groups the persistence collaborators of the analyzer
type stores struct {
	profiles fraud.ProfileStore
	cards    fraud.CardStore
	history  redis.HistoryStore
	devices  redis.DeviceBacking
	rules    rules.Store
	results  fraud.ResultStore
}

// application is the assembled engine
type application struct {
	router   *router.Router
	analyzer *fraudapp.Analyzer
	// workers run until the server has shut down and analyzer work has drained
	workers []func(context.Context)
	closers []func() error
	logger  *zap.Logger
}

func (a *application) close() {
	// Close in reverse order of acquisition
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config, zl *zap.Logger) (_ *application, err error) {
	app := &application{logger: zl}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	health := map[string]handler.HealthChecker{}

	st, err := buildStores(ctx, cfg, zl, app, health)
	if err != nil {
		return nil, err
	}

	// Redis caches sit in front of the durable stores
	var limiter *router.RateLimiter
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rc.Close)
		health["redis"] = rc
		zl.Info("connected to redis", zap.String("addr", rc.Addr()))

		st.history = redis.NewVelocityCache(rc, st.history, zl)
		st.profiles = redis.NewProfileCache(rc, st.profiles, cfg.Redis.ProfileCacheTTL, zl)
		st.devices = redis.NewDeviceCache(rc, st.devices, cfg.Redis.DeviceCacheTTL, zl)

		if cfg.Server.RateLimitPerSecond > 0 {
			limiter = router.NewRateLimiter(redis_rate.NewLimiter(rc.Redis()), router.RateLimitConfig{
				PerSecond:         cfg.Server.RateLimitPerSecond,
				Burst:             cfg.Server.RateLimitBurst,
				TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
			}, m, zl)
		}
	}

	var geo fraudapp.LocationResolver
	if cfg.GeoIP.DatabasePath != "" {
		resolver, err := geoip.Open(cfg.GeoIP.DatabasePath, zl)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, resolver.Close)
		geo = resolver
	}

	// Rules
	if cfg.Rules.SeedDefaults {
		if _, err := rules.SeedDefaults(ctx, st.rules, zl); err != nil {
			return nil, err
		}
	}
	registry := rules.NewCachedRegistry(st.rules, rules.RegistryConfig{
		RefreshInterval: cfg.Rules.RefreshInterval,
		MaxStaleness:    cfg.Rules.MaxStaleness,
	}, zl)
	app.workers = append(app.workers, registry.Start)

	// ML model
	var model fraud.ModelClient
	if cfg.ML.Endpoint != "" {
		model = ml.NewHTTPModelClient(ml.HTTPClientConfig{
			BaseURL:          cfg.ML.Endpoint,
			Path:             cfg.ML.Path,
			Timeout:          cfg.ML.Timeout,
			FailureThreshold: cfg.ML.FailureThreshold,
			OpenTimeout:      cfg.ML.OpenTimeout,
		})
		zl.Info("using remote model", zap.String("endpoint", cfg.ML.Endpoint))
	} else {
		model = ml.NewLocalModel(cfg.ML.ModelVersion)
	}

	checkers := []fraud.Checker{
		fraud.NewVelocityChecker(cfg.Fraud.VelocityLimits()),
		fraud.NewLocationChecker(cfg.Fraud.LocationLimits()),
		fraud.NewBehaviorChecker(),
		fraud.NewDeviceChecker(),
		ml.NewPredictor(ml.NewFeatureExtractor(), model, cfg.ML.Timeout, zl),
		rules.NewEngine(registry, zl, m),
	}

	aggregator, err := fraud.NewAggregator(cfg.Fraud.ScoreWeights(), cfg.Fraud.DecisionThresholds())
	if err != nil {
		return nil, fmt.Errorf("failed to build aggregator: %w", err)
	}

	builder := fraudapp.NewContextBuilder(st.profiles, st.cards, st.history, st.devices, geo,
		fraudapp.ContextBuilderConfig{
			HistoryWindowDays: cfg.Fraud.HistoryWindowDays,
			DependencyTimeout: cfg.Fraud.DependencyTimeout,
		}, zl)

	retrier := fraudapp.NewAuditRetrier(st.results, fraudapp.AuditRetrierConfig{
		QueueSize:      cfg.Audit.QueueSize,
		MaxAttempts:    cfg.Audit.MaxAttempts,
		InitialBackoff: cfg.Audit.InitialBackoff,
		AttemptTimeout: cfg.Audit.AttemptTimeout,
		DrainTimeout:   cfg.Audit.DrainTimeout,
	}, zl, m)
	app.workers = append(app.workers, retrier.Start)

	opts := []fraudapp.AnalyzerOption{
		fraudapp.WithAuditRetrier(retrier),
		fraudapp.WithDeviceRecorder(st.devices),
		fraudapp.WithHistoryRecorder(st.history),
		fraudapp.WithMetrics(m),
	}
	if cfg.Kafka.Enabled {
		publisher := kafka.NewAlertPublisher(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.AlertsTopic,
		}, zl)
		app.closers = append(app.closers, publisher.Close)
		opts = append(opts, fraudapp.WithAlertPublisher(publisher))
	}

	app.analyzer = fraudapp.NewAnalyzer(builder, checkers, aggregator, st.results, fraudapp.AnalyzerConfig{
		SLA:              cfg.Fraud.SLA,
		PersistTimeout:   cfg.Fraud.PersistTimeout,
		AlertTimeout:     cfg.Fraud.AlertTimeout,
		AlertMinDecision: fraud.Decision(cfg.Fraud.AlertMinDecision),
	}, zl, opts...)

	// Initialize handlers
	validate := dto.NewValidator()
	fraudHandler := handler.NewFraudHandler(app.analyzer, validate, zl)
	ruleHandler := handler.NewRuleHandler(st.rules, registry, rules.KnownField, validate, zl)
	healthHandler := handler.NewHealthHandler(version, cfg.Mode(), health)

	var metricsHandler = handler.MetricsHandler(reg)
	if !cfg.Metrics.Enabled {
		metricsHandler = nil
	}

	app.router = router.NewRouter(fraudHandler, ruleHandler, healthHandler, metricsHandler, router.Options{
		Development: cfg.Server.Development,
		Limiter:     limiter,
		Metrics:     m,
		Logger:      zl,
	})
	return app, nil
}

// buildStores returns Postgres repositories when the database is enabled,
// otherwise one in-memory store serving every role.
func buildStores(ctx context.Context, cfg *config.Config, zl *zap.Logger, app *application, health map[string]handler.HealthChecker) (*stores, error) {
	if !cfg.Database.Enabled {
		zl.Warn("database disabled, using in-memory stores")
		mem := memory.NewStore()
		return &stores{
			profiles: mem,
			cards:    mem,
			history:  mem,
			devices:  mem,
			rules:    mem,
			results:  mem,
		}, nil
	}

	db, err := postgres.NewClient(postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	health["database"] = db
	zl.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.Int("port", cfg.Database.Port))

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	profiles := postgres.NewProfileRepository(db)
	return &stores{
		profiles: profiles,
		cards:    profiles,
		history:  postgres.NewTransactionRepository(db),
		devices:  postgres.NewDeviceRepository(db),
		rules:    postgres.NewRuleRepository(db),
		results:  postgres.NewResultRepository(db),
	}, nil
}
