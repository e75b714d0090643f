package fraud

import (
	"github.com/shopspring/decimal"
)

var (
	minScore = decimal.Zero
	maxScore = decimal.NewFromInt(100)
)

// ScoreWeights defines how much each factor contributes to the composite score
type ScoreWeights struct {
	Velocity decimal.Decimal `json:"velocity"`
	Location decimal.Decimal `json:"location"`
	Behavior decimal.Decimal `json:"behavior"`
	Device   decimal.Decimal `json:"device"`
	MLModel  decimal.Decimal `json:"ml_model"`
	Rules    decimal.Decimal `json:"rules"`
}

// DefaultScoreWeights returns the production weight set
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Velocity: decimal.NewFromFloat(0.20),
		Location: decimal.NewFromFloat(0.25),
		Behavior: decimal.NewFromFloat(0.20),
		Device:   decimal.NewFromFloat(0.15),
		MLModel:  decimal.NewFromFloat(0.15),
		Rules:    decimal.NewFromFloat(0.05),
	}
}

// For returns the weight of a factor
func (w ScoreWeights) For(f Factor) decimal.Decimal {
	switch f {
	case FactorVelocity:
		return w.Velocity
	case FactorLocation:
		return w.Location
	case FactorBehavior:
		return w.Behavior
	case FactorDevice:
		return w.Device
	case FactorML:
		return w.MLModel
	case FactorRules:
		return w.Rules
	default:
		return decimal.Zero
	}
}

// Sum returns the total of all weights
func (w ScoreWeights) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, f := range AllFactors {
		total = total.Add(w.For(f))
	}
	return total
}

// Validate checks that weights are non-negative and sum to exactly one
func (w ScoreWeights) Validate() error {
	for _, f := range AllFactors {
		if w.For(f).IsNegative() {
			return ErrInvalidWeights
		}
	}
	if !w.Sum().Equal(decimal.NewFromInt(1)) {
		return ErrInvalidWeights
	}
	return nil
}

// DecisionThresholds are the lower bounds of each decision band
type DecisionThresholds struct {
	Challenge decimal.Decimal `json:"challenge"`
	Review    decimal.Decimal `json:"review"`
	Decline   decimal.Decimal `json:"decline"`
	BlockCard decimal.Decimal `json:"block_card"`
}

// DefaultDecisionThresholds returns the default bands:
// [0,30) approve, [30,60) challenge, [60,80) review, [80,95) decline, [95,100] block card
func DefaultDecisionThresholds() DecisionThresholds {
	return DecisionThresholds{
		Challenge: decimal.NewFromInt(30),
		Review:    decimal.NewFromInt(60),
		Decline:   decimal.NewFromInt(80),
		BlockCard: decimal.NewFromInt(95),
	}
}

// Validate checks that thresholds are strictly increasing within (0, 100]
func (t DecisionThresholds) Validate() error {
	bounds := []decimal.Decimal{t.Challenge, t.Review, t.Decline, t.BlockCard}
	prev := minScore
	for _, b := range bounds {
		if !b.GreaterThan(prev) || b.GreaterThan(maxScore) {
			return ErrInvalidThresholds
		}
		prev = b
	}
	return nil
}

// Decide maps a composite score to a decision
func (t DecisionThresholds) Decide(score decimal.Decimal) Decision {
	// Check thresholds in order of severity
	if score.GreaterThanOrEqual(t.BlockCard) {
		return DecisionBlockCard
	}
	if score.GreaterThanOrEqual(t.Decline) {
		return DecisionDecline
	}
	if score.GreaterThanOrEqual(t.Review) {
		return DecisionReview
	}
	if score.GreaterThanOrEqual(t.Challenge) {
		return DecisionChallenge
	}
	return DecisionApprove
}

// FactorScore is one line of the score breakdown
type FactorScore struct {
	Weight               decimal.Decimal `json:"weight"`
	RawContribution      decimal.Decimal `json:"raw_contribution"`
	WeightedContribution decimal.Decimal `json:"weighted_contribution"`
}

// RiskScore is the composite score together with its per-factor breakdown
type RiskScore struct {
	Composite decimal.Decimal        `json:"composite"`
	Breakdown map[Factor]FactorScore `json:"breakdown"`
}

// Aggregator combines factor results into a score and a decision.
// It holds no per-request state and is safe for concurrent use.
type Aggregator struct {
	weights    ScoreWeights
	thresholds DecisionThresholds
}

// NewAggregator creates an aggregator after validating its configuration
func NewAggregator(weights ScoreWeights, thresholds DecisionThresholds) (*Aggregator, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{weights: weights, thresholds: thresholds}, nil
}

// Weights returns the configured weights
func (a *Aggregator) Weights() ScoreWeights {
	return a.weights
}

// Score computes the composite risk score.
// Every raw contribution is capped to [0,100] before weighting, and the
// composite is clamped to [0,100] and truncated to two decimals, so the
// reported score never rounds up across a decision threshold.
// Factors missing from results count as zero.
func (a *Aggregator) Score(results []FactorResult) RiskScore {
	score, _ := a.score(results)
	return score
}

// score also returns the exact composite that decisions are made on
func (a *Aggregator) score(results []FactorResult) (RiskScore, decimal.Decimal) {
	raw := make(map[Factor]float64, len(AllFactors))
	for _, r := range results {
		raw[r.Factor] += r.Contribution()
	}

	composite := decimal.Zero
	breakdown := make(map[Factor]FactorScore, len(AllFactors))
	for _, f := range AllFactors {
		contribution := clamp(decimal.NewFromFloat(raw[f]))
		weight := a.weights.For(f)
		weighted := weight.Mul(contribution)
		breakdown[f] = FactorScore{
			Weight:               weight,
			RawContribution:      contribution,
			WeightedContribution: weighted.Round(2),
		}
		composite = composite.Add(weighted)
	}

	exact := clamp(composite)
	return RiskScore{
		Composite: exact.Truncate(2),
		Breakdown: breakdown,
	}, exact
}

// Decide maps a composite score to a decision
func (a *Aggregator) Decide(score decimal.Decimal) Decision {
	return a.thresholds.Decide(score)
}

// Aggregate scores the results and decides on the unrounded composite
func (a *Aggregator) Aggregate(results []FactorResult) (RiskScore, Decision) {
	score, exact := a.score(results)
	return score, a.Decide(exact)
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(minScore) {
		return minScore
	}
	if d.GreaterThan(maxScore) {
		return maxScore
	}
	return d
}
