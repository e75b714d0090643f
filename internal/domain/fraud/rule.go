package fraud

import (
	"time"

	"github.com/google/uuid"
)

// RuleType categorises a fraud rule
type RuleType string

const (
	RuleTypeVelocity RuleType = "velocity"
	RuleTypeAmount   RuleType = "amount"
	RuleTypeLocation RuleType = "location"
	RuleTypeMerchant RuleType = "merchant"
	RuleTypeBehavior RuleType = "behavior"
	RuleTypeDevice   RuleType = "device"
	RuleTypeTime     RuleType = "time"
	RuleTypePattern  RuleType = "pattern"
)

// Valid reports whether the rule type is known
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeVelocity, RuleTypeAmount, RuleTypeLocation, RuleTypeMerchant,
		RuleTypeBehavior, RuleTypeDevice, RuleTypeTime, RuleTypePattern:
		return true
	}
	return false
}

// Operator compares a context field against a rule value
type Operator string

const (
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
	OpEqual       Operator = "eq"
	OpNotEqual    Operator = "ne"
	OpIn          Operator = "in"
	OpNotIn       Operator = "nin"
	OpContains    Operator = "contains"
)

// RuleCondition is a single predicate over the analysis context.
// Field is a dotted path such as "transaction.amount" or "velocity.hourlyCount".
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	// TimeWindow restricts history and velocity fields to this window
	TimeWindow *time.Duration `json:"time_window,omitempty"`
}

// FraudRule is a configurable rule loaded from the rule repository.
// Rules are data, not code: they can be changed without a deploy.
type FraudRule struct {
	ID        uuid.UUID     `json:"id"`
	Type      RuleType      `json:"type"`
	Name      string        `json:"name"`
	Condition RuleCondition `json:"condition"`
	Weight    float64       `json:"weight"`
	Enabled   bool          `json:"enabled"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks the static shape of the rule
func (r *FraudRule) Validate() error {
	if r.Name == "" || r.Condition.Field == "" {
		return ErrRuleConfigInvalid
	}
	if !r.Type.Valid() {
		return ErrInvalidRuleType
	}
	if r.Weight < 0 {
		return ErrInvalidRuleWeight
	}
	return nil
}
