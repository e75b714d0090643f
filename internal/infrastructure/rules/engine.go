package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/pkg/metrics"
)

// Engine evaluates configurable rules and implements fraud.Checker for the rules factor
type Engine struct {
	registry fraud.RuleRegistry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates a new rule engine
func NewEngine(registry fraud.RuleRegistry, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.Named("rule_engine"),
		metrics:  m,
	}
}

func (e *Engine) Factor() fraud.Factor { return fraud.FactorRules }

// Check runs all enabled rules. A rule that cannot be evaluated is skipped;
// only a registry failure degrades the whole factor.
func (e *Engine) Check(ctx context.Context, ac *fraud.AnalysisContext) fraud.FactorResult {
	rules, err := e.registry.EnabledRules(ctx)
	if err != nil {
		e.logger.Warn("rule registry unavailable", zap.Error(err))
		return fraud.DegradedResult(fraud.FactorRules, "rule registry unavailable", err)
	}

	total := decimal.Zero
	triggered := make([]string, 0)
	skipped := 0

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		fired, err := EvaluateRule(rule, ac)
		if err != nil {
			skipped++
			e.recordRuleError(rule, err)
			continue
		}
		if fired {
			total = total.Add(decimal.NewFromFloat(rule.Weight))
			triggered = append(triggered, rule.Name)
		}
	}

	detail := map[string]any{
		"evaluated":       len(rules) - skipped,
		"skipped":         skipped,
		"triggered_rules": triggered,
	}
	if len(triggered) == 0 {
		return fraud.Pass(fraud.FactorRules, detail)
	}
	return fraud.Violated(fraud.FactorRules, total.InexactFloat64(), []fraud.ReasonCode{fraud.ReasonRuleTriggered}, detail)
}

func (e *Engine) recordRuleError(rule fraud.FraudRule, err error) {
	kind := "other"
	switch {
	case errors.Is(err, ErrFieldUnavailable):
		// Missing data is expected for optional context and is not an error
		e.logger.Debug("rule skipped, no data for field",
			zap.String("rule_name", rule.Name),
			zap.String("field", rule.Condition.Field),
		)
		return
	case errors.Is(err, ErrUnknownField):
		kind = "unknown_field"
	case errors.Is(err, ErrTypeMismatch):
		kind = "type_mismatch"
	case errors.Is(err, ErrUnsupportedOperator):
		kind = "unsupported_operator"
	}

	e.metrics.RuleError(kind)
	e.logger.Warn("rule evaluation failed, skipping rule",
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_name", rule.Name),
		zap.String("field", rule.Condition.Field),
		zap.String("operator", string(rule.Condition.Operator)),
		zap.Error(err),
	)
}

// EvaluateRule reports whether the rule's condition holds for the context
func EvaluateRule(rule fraud.FraudRule, ac *fraud.AnalysisContext) (bool, error) {
	cond := rule.Condition

	var window time.Duration
	if cond.TimeWindow != nil {
		window = *cond.TimeWindow
	}
	actual, err := resolve(cond.Field, ac, window)
	if err != nil {
		return false, err
	}

	switch cond.Operator {
	case fraud.OpGreaterThan, fraud.OpLessThan:
		a, ok := toFloat(actual)
		if !ok {
			return false, fmt.Errorf("%w: field %s is not numeric", ErrTypeMismatch, cond.Field)
		}
		b, ok := toFloat(cond.Value)
		if !ok {
			return false, fmt.Errorf("%w: value for %s is not numeric", ErrTypeMismatch, cond.Field)
		}
		if cond.Operator == fraud.OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil

	case fraud.OpEqual, fraud.OpNotEqual:
		eq, err := equal(actual, cond.Value)
		if err != nil {
			return false, fmt.Errorf("%w: field %s", err, cond.Field)
		}
		if cond.Operator == fraud.OpEqual {
			return eq, nil
		}
		return !eq, nil

	case fraud.OpIn, fraud.OpNotIn:
		list, ok := toList(cond.Value)
		if !ok {
			return false, fmt.Errorf("%w: value for %s is not a list", ErrTypeMismatch, cond.Field)
		}
		found := false
		for _, v := range list {
			eq, err := equal(actual, v)
			if err != nil {
				return false, fmt.Errorf("%w: field %s", err, cond.Field)
			}
			if eq {
				found = true
				break
			}
		}
		if cond.Operator == fraud.OpIn {
			return found, nil
		}
		return !found, nil

	case fraud.OpContains:
		return contains(actual, cond.Value, cond.Field)

	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, cond.Operator)
	}
}

func contains(actual, value any, field string) (bool, error) {
	needle, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("%w: contains on %s needs a string value", ErrTypeMismatch, field)
	}
	switch v := actual.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), strings.ToLower(needle)), nil
	case []string:
		for _, s := range v {
			if strings.EqualFold(s, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: contains on non-text field %s", ErrTypeMismatch, field)
	}
}

func equal(actual, expected any) (bool, error) {
	if a, ok := toFloat(actual); ok {
		b, ok := toFloat(expected)
		if !ok {
			return false, ErrTypeMismatch
		}
		return a == b, nil
	}
	switch a := actual.(type) {
	case string:
		b, ok := expected.(string)
		if !ok {
			return false, ErrTypeMismatch
		}
		return strings.EqualFold(a, b), nil
	case bool:
		b, ok := expected.(bool)
		if !ok {
			return false, ErrTypeMismatch
		}
		return a == b, nil
	default:
		return false, ErrTypeMismatch
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case decimal.Decimal:
		return n.InexactFloat64(), true
	default:
		return 0, false
	}
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}
