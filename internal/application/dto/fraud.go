package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appfraud "redemption-fraud-engine/internal/application/fraud"
	"redemption-fraud-engine/internal/domain/fraud"
)

// FactorScoreResponse is one factor's share of the composite score
type FactorScoreResponse struct {
	Weight               decimal.Decimal `json:"weight"`
	RawContribution      decimal.Decimal `json:"raw_contribution"`
	WeightedContribution decimal.Decimal `json:"weighted_contribution"`
}

// AnalysisResponse represents the complete fraud analysis outcome
type AnalysisResponse struct {
	AnalysisID    uuid.UUID `json:"analysis_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	UserID        uuid.UUID `json:"user_id"`

	// Decision
	Decision  string          `json:"decision"`
	RiskScore decimal.Decimal `json:"risk_score"`
	Halts     bool            `json:"halts_transaction"`

	// Explanation
	Reasons       []string                       `json:"reasons"`
	Factors       []fraud.FactorResult           `json:"factor_breakdown"`
	Scores        map[string]FactorScoreResponse `json:"score_breakdown"`
	Prediction    *fraud.Prediction              `json:"prediction,omitempty"`
	Degraded      bool                           `json:"degraded"`
	FailureReason string                         `json:"failure_reason,omitempty"`

	// Performance
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewAnalysisResponse maps a domain result to its API representation
func NewAnalysisResponse(r *fraud.FraudAnalysisResult) AnalysisResponse {
	reasons := make([]string, 0)
	seen := make(map[fraud.ReasonCode]struct{})
	for _, f := range r.Factors {
		for _, code := range f.Reasons() {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			reasons = append(reasons, string(code))
		}
	}

	scores := make(map[string]FactorScoreResponse, len(r.RiskScore.Breakdown))
	for factor, s := range r.RiskScore.Breakdown {
		scores[string(factor)] = FactorScoreResponse{
			Weight:               s.Weight,
			RawContribution:      s.RawContribution,
			WeightedContribution: s.WeightedContribution,
		}
	}

	factors := r.Factors
	if factors == nil {
		factors = []fraud.FactorResult{}
	}

	return AnalysisResponse{
		AnalysisID:       r.AnalysisID,
		TransactionID:    r.TransactionID,
		UserID:           r.UserID,
		Decision:         string(r.Decision),
		RiskScore:        r.RiskScore.Composite,
		Halts:            r.Decision.HaltsTransaction(),
		Reasons:          reasons,
		Factors:          factors,
		Scores:           scores,
		Prediction:       r.Prediction,
		Degraded:         r.Degraded,
		FailureReason:    r.FailureReason,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Timestamp:        r.Timestamp,
	}
}

// BatchItemResponse is one entry of a batch response
type BatchItemResponse struct {
	AnalysisResponse
	Error string `json:"error,omitempty"`
}

// BatchSummaryResponse counts decisions across a batch
type BatchSummaryResponse struct {
	Total      int            `json:"total"`
	Degraded   int            `json:"degraded"`
	Failed     int            `json:"failed"`
	ByDecision map[string]int `json:"by_decision"`
}

// BatchAnalyzeResponse is the result of a batch analysis
type BatchAnalyzeResponse struct {
	Results []BatchItemResponse  `json:"results"`
	Summary BatchSummaryResponse `json:"summary"`
}

func NewBatchAnalyzeResponse(items []appfraud.BatchItem, summary appfraud.BatchSummary) BatchAnalyzeResponse {
	results := make([]BatchItemResponse, 0, len(items))
	for _, item := range items {
		var entry BatchItemResponse
		if item.Result != nil {
			entry.AnalysisResponse = NewAnalysisResponse(item.Result)
		}
		if item.Err != nil {
			entry.Error = item.Err.Error()
		}
		results = append(results, entry)
	}

	byDecision := make(map[string]int, len(summary.ByDecision))
	for d, n := range summary.ByDecision {
		byDecision[string(d)] = n
	}

	return BatchAnalyzeResponse{
		Results: results,
		Summary: BatchSummaryResponse{
			Total:      summary.Total,
			Degraded:   summary.Degraded,
			Failed:     summary.Failed,
			ByDecision: byDecision,
		},
	}
}

// RuleResponse represents a configured fraud rule
type RuleResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Field      string  `json:"field"`
	Operator   string  `json:"operator"`
	Value      any     `json:"value"`
	TimeWindow string  `json:"time_window,omitempty"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
}

func NewRuleResponse(r fraud.FraudRule) RuleResponse {
	resp := RuleResponse{
		ID:       r.ID.String(),
		Name:     r.Name,
		Type:     string(r.Type),
		Field:    r.Condition.Field,
		Operator: string(r.Condition.Operator),
		Value:    r.Condition.Value,
		Weight:   r.Weight,
		Enabled:  r.Enabled,
	}
	if r.Condition.TimeWindow != nil {
		resp.TimeWindow = r.Condition.TimeWindow.String()
	}
	return resp
}
