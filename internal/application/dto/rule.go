package dto

import (
	"fmt"
	"time"

	"redemption-fraud-engine/internal/domain/fraud"
)

// CreateRuleRequest represents a request to add a fraud rule
type CreateRuleRequest struct {
	Name       string  `json:"name" validate:"required,max=128"`
	Type       string  `json:"type" validate:"required,oneof=velocity amount location merchant behavior device time pattern"`
	Field      string  `json:"field" validate:"required"`
	Operator   string  `json:"operator" validate:"required,oneof=gt lt eq ne in nin contains"`
	Value      any     `json:"value" validate:"required"`
	TimeWindow string  `json:"time_window,omitempty"`
	Weight     float64 `json:"weight" validate:"gte=0,lte=100"`
	Enabled    *bool   `json:"enabled,omitempty"`
}

// ToRule converts the request to a domain rule. Rules are enabled unless stated otherwise.
func (r *CreateRuleRequest) ToRule() (fraud.FraudRule, error) {
	rule := fraud.FraudRule{
		Type: fraud.RuleType(r.Type),
		Name: r.Name,
		Condition: fraud.RuleCondition{
			Field:    r.Field,
			Operator: fraud.Operator(r.Operator),
			Value:    r.Value,
		},
		Weight:  r.Weight,
		Enabled: r.Enabled == nil || *r.Enabled,
	}

	if r.TimeWindow != "" {
		window, err := time.ParseDuration(r.TimeWindow)
		if err != nil || window <= 0 {
			return fraud.FraudRule{}, fmt.Errorf("%w: time_window %q", fraud.ErrRuleConfigInvalid, r.TimeWindow)
		}
		rule.Condition.TimeWindow = &window
	}
	return rule, rule.Validate()
}
