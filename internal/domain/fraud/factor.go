package fraud

import (
	"encoding/json"
	"errors"
)

// Factor names one scoring dimension of the analysis
type Factor string

const (
	FactorVelocity Factor = "velocity"
	FactorLocation Factor = "location"
	FactorBehavior Factor = "behavior"
	FactorDevice   Factor = "device"
	FactorML       Factor = "ml"
	FactorRules    Factor = "rules"
)

// AllFactors lists every factor in breakdown order
var AllFactors = []Factor{
	FactorVelocity,
	FactorLocation,
	FactorBehavior,
	FactorDevice,
	FactorML,
	FactorRules,
}

// ReasonCode is a machine readable explanation of a violation
type ReasonCode string

const (
	ReasonHourlyCountExceeded  ReasonCode = "HOURLY_COUNT_EXCEEDED"
	ReasonDailyCountExceeded   ReasonCode = "DAILY_COUNT_EXCEEDED"
	ReasonHourlyAmountExceeded ReasonCode = "HOURLY_AMOUNT_EXCEEDED"
	ReasonDailyAmountExceeded  ReasonCode = "DAILY_AMOUNT_EXCEEDED"

	ReasonImpossibleTravel ReasonCode = "IMPOSSIBLE_TRAVEL"
	ReasonUnusualLocation  ReasonCode = "UNUSUAL_LOCATION"

	ReasonAmountAnomaly   ReasonCode = "AMOUNT_ANOMALY"
	ReasonUnusualHour     ReasonCode = "UNUSUAL_HOUR"
	ReasonUnusualCategory ReasonCode = "UNUSUAL_MERCHANT_CATEGORY"

	ReasonNoDeviceFingerprint ReasonCode = "NO_DEVICE_FINGERPRINT"
	ReasonNewDevice           ReasonCode = "NEW_DEVICE"
	ReasonDeviceAnomaly       ReasonCode = "DEVICE_ANOMALY"

	ReasonRuleTriggered ReasonCode = "RULE_TRIGGERED"
	ReasonModelScore    ReasonCode = "ML_SCORE"
)

// Outcome is the result of a single checker.
// It is one of NoViolation, Violation or Degraded.
type Outcome interface {
	outcome()
	// Contribution is the raw, unweighted points this outcome adds
	Contribution() float64
}

// NoViolation means the checker ran and found nothing
type NoViolation struct{}

func (NoViolation) outcome()              {}
func (NoViolation) Contribution() float64 { return 0 }

// Violation means the checker found one or more problems
type Violation struct {
	Reasons []ReasonCode
	Points  float64
}

func (Violation) outcome()                {}
func (v Violation) Contribution() float64 { return v.Points }

// Degraded means the checker could not produce a verdict.
// It contributes nothing and is treated as neutral.
type Degraded struct {
	Reason string
	Cause  error
}

func (Degraded) outcome()              {}
func (Degraded) Contribution() float64 { return 0 }

// FactorResult is what a checker reports to the aggregator
type FactorResult struct {
	Factor  Factor
	Outcome Outcome
	Detail  map[string]any
}

// Contribution returns the raw contribution of the outcome, zero when unset
func (r FactorResult) Contribution() float64 {
	if r.Outcome == nil {
		return 0
	}
	return r.Outcome.Contribution()
}

// IsDegraded reports whether the checker failed to produce a verdict
func (r FactorResult) IsDegraded() bool {
	_, ok := r.Outcome.(Degraded)
	return ok
}

// Reasons returns the violation reasons, if any
func (r FactorResult) Reasons() []ReasonCode {
	if v, ok := r.Outcome.(Violation); ok {
		return v.Reasons
	}
	return nil
}

// Pass builds a no-violation result
func Pass(factor Factor, detail map[string]any) FactorResult {
	return FactorResult{Factor: factor, Outcome: NoViolation{}, Detail: detail}
}

// Violated builds a violation result, or a pass when there are no reasons and no points
func Violated(factor Factor, points float64, reasons []ReasonCode, detail map[string]any) FactorResult {
	if len(reasons) == 0 && points == 0 {
		return Pass(factor, detail)
	}
	return FactorResult{
		Factor:  factor,
		Outcome: Violation{Reasons: reasons, Points: points},
		Detail:  detail,
	}
}

// DegradedResult builds a neutral result for a failed checker
func DegradedResult(factor Factor, reason string, cause error) FactorResult {
	return FactorResult{
		Factor:  factor,
		Outcome: Degraded{Reason: reason, Cause: cause},
		Detail:  map[string]any{"degraded_reason": reason},
	}
}

type factorResultJSON struct {
	Factor       Factor         `json:"factor"`
	Status       string         `json:"status"`
	Contribution float64        `json:"contribution"`
	Reasons      []ReasonCode   `json:"reasons,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	Degraded     string         `json:"degraded_reason,omitempty"`
	Cause        string         `json:"cause,omitempty"`
}

const (
	statusPass     = "pass"
	statusViolated = "violation"
	statusDegraded = "degraded"
)

// MarshalJSON flattens the outcome into a status field
func (r FactorResult) MarshalJSON() ([]byte, error) {
	out := factorResultJSON{
		Factor:       r.Factor,
		Status:       statusPass,
		Contribution: r.Contribution(),
		Detail:       r.Detail,
	}
	switch o := r.Outcome.(type) {
	case Violation:
		out.Status = statusViolated
		out.Reasons = o.Reasons
	case Degraded:
		out.Status = statusDegraded
		out.Degraded = o.Reason
		if o.Cause != nil {
			out.Cause = o.Cause.Error()
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a factor result written by MarshalJSON
func (r *FactorResult) UnmarshalJSON(data []byte) error {
	var in factorResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Factor = in.Factor
	r.Detail = in.Detail
	switch in.Status {
	case statusViolated:
		r.Outcome = Violation{Reasons: in.Reasons, Points: in.Contribution}
	case statusDegraded:
		var cause error
		if in.Cause != "" {
			cause = errors.New(in.Cause)
		}
		r.Outcome = Degraded{Reason: in.Degraded, Cause: cause}
	default:
		r.Outcome = NoViolation{}
	}
	return nil
}
