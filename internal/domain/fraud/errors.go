package fraud

import (
	"errors"
	"fmt"
)

var (
	// Context errors
	ErrUserNotFound          = errors.New("user not found")
	ErrCardNotFound          = errors.New("card not found")
	ErrInvalidTransaction    = errors.New("transaction cannot be resolved")
	ErrAnalysisNotFound      = errors.New("fraud analysis not found")
	ErrAnalysisAlreadyExists = errors.New("fraud analysis already recorded")

	// Rule errors
	ErrRuleNotFound      = errors.New("fraud rule not found")
	ErrInvalidRuleType   = errors.New("invalid rule type")
	ErrInvalidRuleWeight = errors.New("rule weight must not be negative")
	ErrRuleConfigInvalid = errors.New("rule configuration is invalid")

	// Scoring errors
	ErrInvalidWeights    = errors.New("score weights must be non-negative and sum to 1")
	ErrInvalidThresholds = errors.New("decision thresholds must be strictly increasing within (0, 100]")

	// Analysis errors
	ErrAnalysisTimeout  = errors.New("fraud analysis timed out")
	ErrModelUnavailable = errors.New("ML model is unavailable")
)

// FatalContextError means the analysis context could not be built at all.
// The analyzer still returns a REVIEW result alongside it.
type FatalContextError struct {
	TransactionID string
	Err           error
}

func (e *FatalContextError) Error() string {
	return fmt.Sprintf("build analysis context for transaction %s: %v", e.TransactionID, e.Err)
}

func (e *FatalContextError) Unwrap() error {
	return e.Err
}
