package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// Store is the administrable rule store behind the registry
type Store interface {
	fraud.RuleRepository
	Save(ctx context.Context, rule *fraud.FraudRule) error
	Count(ctx context.Context) (int64, error)
	Disable(ctx context.Context, ruleID uuid.UUID) error
}

// DefaultRules is the baseline rule set installed into an empty rule store
func DefaultRules() []fraud.FraudRule {
	tenMinutes := 10 * time.Minute

	return []fraud.FraudRule{
		{
			Type:      fraud.RuleTypeAmount,
			Name:      "large redemption",
			Condition: fraud.RuleCondition{Field: "transaction.amount", Operator: fraud.OpGreaterThan, Value: 500.0},
			Weight:    25,
		},
		{
			Type:      fraud.RuleTypeVelocity,
			Name:      "redemption burst",
			Condition: fraud.RuleCondition{Field: "history.count", Operator: fraud.OpGreaterThan, Value: 3.0, TimeWindow: &tenMinutes},
			Weight:    30,
		},
		{
			Type:      fraud.RuleTypeLocation,
			Name:      "many locations in a day",
			Condition: fraud.RuleCondition{Field: "velocity.uniqueLocationsDay", Operator: fraud.OpGreaterThan, Value: 3.0},
			Weight:    20,
		},
		{
			Type:      fraud.RuleTypeMerchant,
			Name:      "many merchants in a day",
			Condition: fraud.RuleCondition{Field: "velocity.uniqueMerchantsDay", Operator: fraud.OpGreaterThan, Value: 8.0},
			Weight:    15,
		},
		{
			Type:      fraud.RuleTypeDevice,
			Name:      "compromised device",
			Condition: fraud.RuleCondition{Field: "device.flags", Operator: fraud.OpContains, Value: "rooted"},
			Weight:    40,
		},
		{
			Type:      fraud.RuleTypeTime,
			Name:      "overnight redemption",
			Condition: fraud.RuleCondition{Field: "transaction.hour", Operator: fraud.OpLessThan, Value: 5.0},
			Weight:    5,
		},
		{
			Type:      fraud.RuleTypeBehavior,
			Name:      "new account",
			Condition: fraud.RuleCondition{Field: "profile.accountAgeDays", Operator: fraud.OpLessThan, Value: 2.0},
			Weight:    10,
		},
		{
			Type:      fraud.RuleTypePattern,
			Name:      "high risk tier",
			Condition: fraud.RuleCondition{Field: "profile.riskTier", Operator: fraud.OpEqual, Value: string(fraud.RiskTierHigh)},
			Weight:    20,
		},
	}
}

// SeedDefaults saves DefaultRules when the store holds no rules yet.
// It returns the number of rules written.
func SeedDefaults(ctx context.Context, store Store, logger *zap.Logger) (int, error) {
	count, err := store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	defaults := DefaultRules()
	for i := range defaults {
		rule := defaults[i]
		rule.Enabled = true
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		if err := store.Save(ctx, &rule); err != nil {
			return i, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
	}

	logger.Info("seeded default fraud rules", zap.Int("count", len(defaults)))
	return len(defaults), nil
}
