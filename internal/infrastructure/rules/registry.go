package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// RegistryConfig controls how long cached rules may be served
type RegistryConfig struct {
	// RefreshInterval is how often the background loop reloads rules
	RefreshInterval time.Duration
	// MaxStaleness is the oldest a cached rule set may be before a reader reloads it synchronously
	MaxStaleness time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RefreshInterval: time.Minute,
		MaxStaleness:    5 * time.Minute,
	}
}

// CachedRegistry implements fraud.RuleRegistry on top of a rule repository.
// Readers get the cached set; a background loop keeps it fresh.
type CachedRegistry struct {
	repo   fraud.RuleRepository
	cfg    RegistryConfig
	logger *zap.Logger

	// In-memory rule cache
	rulesMu     sync.RWMutex
	rulesCache  []fraud.FraudRule
	loaded      bool
	lastRefresh time.Time
}

// NewCachedRegistry creates a registry. Call Start to enable background refresh.
func NewCachedRegistry(repo fraud.RuleRepository, cfg RegistryConfig, logger *zap.Logger) *CachedRegistry {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRegistryConfig().RefreshInterval
	}
	if cfg.MaxStaleness < cfg.RefreshInterval {
		cfg.MaxStaleness = cfg.RefreshInterval
	}
	return &CachedRegistry{
		repo:   repo,
		cfg:    cfg,
		logger: logger.Named("rule_registry"),
	}
}

// EnabledRules returns the cached rule set, reloading it only when it is missing or too old
func (r *CachedRegistry) EnabledRules(ctx context.Context) ([]fraud.FraudRule, error) {
	r.rulesMu.RLock()
	if r.fresh() {
		rules := r.rulesCache
		r.rulesMu.RUnlock()
		return rules, nil
	}
	r.rulesMu.RUnlock()

	r.rulesMu.Lock()
	defer r.rulesMu.Unlock()

	// Double-check after acquiring write lock
	if r.fresh() {
		return r.rulesCache, nil
	}

	rules, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.store(rules)
	return rules, nil
}

// Refresh reloads rules from the repository. On failure the previous set is kept.
func (r *CachedRegistry) Refresh(ctx context.Context) error {
	rules, err := r.load(ctx)
	if err != nil {
		return err
	}

	r.rulesMu.Lock()
	r.store(rules)
	r.rulesMu.Unlock()
	return nil
}

// Invalidate drops the cached set so the next reader reloads it
func (r *CachedRegistry) Invalidate() {
	r.rulesMu.Lock()
	r.rulesCache = nil
	r.loaded = false
	r.rulesMu.Unlock()
}

// Start runs the refresh loop until ctx is cancelled
func (r *CachedRegistry) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial rule load failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("rule refresh failed, serving cached rules", zap.Error(err))
			}
		}
	}
}

// fresh must be called with rulesMu held
func (r *CachedRegistry) fresh() bool {
	return r.loaded && time.Since(r.lastRefresh) < r.cfg.MaxStaleness
}

// store must be called with rulesMu held for writing
func (r *CachedRegistry) store(rules []fraud.FraudRule) {
	r.rulesCache = rules
	r.loaded = true
	r.lastRefresh = time.Now()
	r.logger.Debug("rules refreshed", zap.Int("count", len(rules)))
}

func (r *CachedRegistry) load(ctx context.Context) ([]fraud.FraudRule, error) {
	all, err := r.repo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	rules := make([]fraud.FraudRule, 0, len(all))
	for _, rule := range all {
		if !rule.Enabled {
			continue
		}
		if err := rule.Validate(); err != nil {
			r.logger.Warn("ignoring invalid rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.Error(err),
			)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
