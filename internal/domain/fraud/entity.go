package fraud

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskTier is the coarse risk classification kept on a user profile
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// Location is where a redemption attempt happened.
// Coordinates are optional: upstream collaborators do not always resolve them.
type Location struct {
	Country   string   `json:"country"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Region returns the "country:city" identifier used to match typical locations
func (l *Location) Region() string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", l.Country, l.City)
}

// Transaction is a single discount-redemption attempt.
// It is treated as a read-only value for the whole analysis.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	CardID            uuid.UUID       `json:"card_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantCategory  string          `json:"merchant_category"`
	Location          *Location       `json:"location,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	DeviceFingerprint string          `json:"device_fingerprint,omitempty"`
	IPAddress         string          `json:"ip_address,omitempty"`
}

// TypicalLocation is a region the user transacts from, with how often they do
type TypicalLocation struct {
	Region    string   `json:"region"` // country:city
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Frequency int      `json:"frequency"`
}

// UserProfile is the stored behavioural profile of a user
type UserProfile struct {
	UserID                    uuid.UUID         `json:"user_id"`
	AverageTransactionAmount  decimal.Decimal   `json:"average_transaction_amount"`
	TypicalLocations          []TypicalLocation `json:"typical_locations"`
	TypicalMerchantCategories []string          `json:"typical_merchant_categories"`
	TypicalHours              []int             `json:"typical_hours"`
	KnownDeviceFingerprints   []string          `json:"known_device_fingerprints"`
	RiskTier                  RiskTier          `json:"risk_tier"`
	CreatedAt                 time.Time         `json:"created_at"`
}

// KnowsDevice reports whether the fingerprint is registered on the profile
func (p *UserProfile) KnowsDevice(fingerprint string) bool {
	if p == nil {
		return false
	}
	for _, fp := range p.KnownDeviceFingerprints {
		if fp == fingerprint {
			return true
		}
	}
	return false
}

// CardInfo is the card metadata needed for scoring
type CardInfo struct {
	CardID         uuid.UUID `json:"card_id"`
	UserID         uuid.UUID `json:"user_id"`
	IssuingCountry string    `json:"issuing_country"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeviceRecord is one entry of a fingerprint's device history
type DeviceRecord struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	TrustFlags  []string  `json:"trust_flags"`
}

// AnalysisContext is everything the checkers may look at.
// It is built once per analysis and must not be mutated afterwards.
type AnalysisContext struct {
	Transaction Transaction
	// Location is the effective location: the transaction's own, or one resolved from its IP.
	Location           *Location
	Profile            *UserProfile
	Card               *CardInfo
	RecentTransactions []Transaction // newest first, current transaction excluded
	DeviceHistory      []DeviceRecord
	// Degraded lists the sub-fetches that failed and were replaced by empty data.
	Degraded []string
	BuiltAt  time.Time
}

// EffectiveLocation returns the resolved location, falling back to the transaction's own
func (c *AnalysisContext) EffectiveLocation() *Location {
	if c.Location != nil {
		return c.Location
	}
	return c.Transaction.Location
}

// HistoryWithin returns recent transactions no older than window before the analysed one
func (c *AnalysisContext) HistoryWithin(window time.Duration) []Transaction {
	cutoff := c.Transaction.Timestamp.Add(-window)
	out := make([]Transaction, 0, len(c.RecentTransactions))
	for _, tx := range c.RecentTransactions {
		if tx.Timestamp.After(cutoff) && !tx.Timestamp.After(c.Transaction.Timestamp) {
			out = append(out, tx)
		}
	}
	return out
}

// PreviousTransaction returns the most recent prior transaction, if any
func (c *AnalysisContext) PreviousTransaction() *Transaction {
	for i := range c.RecentTransactions {
		if !c.RecentTransactions[i].Timestamp.After(c.Transaction.Timestamp) {
			return &c.RecentTransactions[i]
		}
	}
	return nil
}

// Decision is the enforcement action for a transaction
type Decision string

const (
	DecisionApprove   Decision = "APPROVE"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionReview    Decision = "REVIEW"
	DecisionDecline   Decision = "DECLINE"
	DecisionBlockCard Decision = "BLOCK_CARD"
)

// Severity orders decisions from least to most restrictive
func (d Decision) Severity() int {
	switch d {
	case DecisionApprove:
		return 0
	case DecisionChallenge:
		return 1
	case DecisionReview:
		return 2
	case DecisionDecline:
		return 3
	case DecisionBlockCard:
		return 4
	default:
		return -1
	}
}

// HaltsTransaction reports whether the pipeline must stop the redemption
func (d Decision) HaltsTransaction() bool {
	return d == DecisionDecline || d == DecisionBlockCard
}

// Prediction is what the ML collaborator returned, kept for audit
type Prediction struct {
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// FraudAnalysisResult is the outcome of one analysis run.
// It is created once and appended to the audit store, never updated.
type FraudAnalysisResult struct {
	AnalysisID       uuid.UUID      `json:"analysis_id"`
	TransactionID    uuid.UUID      `json:"transaction_id"`
	UserID           uuid.UUID      `json:"user_id"`
	RiskScore        RiskScore      `json:"risk_score"`
	Decision         Decision       `json:"decision"`
	Factors          []FactorResult `json:"factor_breakdown"`
	Prediction       *Prediction    `json:"prediction,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Timestamp        time.Time      `json:"timestamp"`
	Degraded         bool           `json:"degraded"`
	FailureReason    string         `json:"failure_reason,omitempty"`
}

// NewFraudAnalysisResult creates a result with a fresh analysis ID
func NewFraudAnalysisResult(tx Transaction, score RiskScore, decision Decision, factors []FactorResult) *FraudAnalysisResult {
	return &FraudAnalysisResult{
		AnalysisID:    uuid.New(),
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		RiskScore:     score,
		Decision:      decision,
		Factors:       factors,
		Timestamp:     time.Now().UTC(),
	}
}

// Factor returns the result recorded for the named factor
func (r *FraudAnalysisResult) Factor(name Factor) (FactorResult, bool) {
	for _, f := range r.Factors {
		if f.Factor == name {
			return f, true
		}
	}
	return FactorResult{}, false
}
