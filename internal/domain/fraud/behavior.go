package fraud

import (
	"context"

	"gonum.org/v1/gonum/stat"
)

const (
	behaviorHighPoints   = 20
	behaviorMediumPoints = 10
	behaviorLowPoints    = 5

	amountAnomalyMultiplier = 3.0
)

// BehaviorBaseline is the user's usual spending pattern
type BehaviorBaseline struct {
	AverageAmount float64
	HasAverage    bool
	Hours         map[int]struct{}
	Categories    map[string]struct{}
	Source        string
}

// BuildBehaviorBaseline derives the baseline from recent history,
// falling back to the stored profile when there is no history.
func BuildBehaviorBaseline(ac *AnalysisContext) BehaviorBaseline {
	b := BehaviorBaseline{
		Hours:      map[int]struct{}{},
		Categories: map[string]struct{}{},
	}

	if len(ac.RecentTransactions) > 0 {
		b.Source = "history"
		amounts := make([]float64, 0, len(ac.RecentTransactions))
		for _, tx := range ac.RecentTransactions {
			amounts = append(amounts, tx.Amount.InexactFloat64())
			b.Hours[tx.Timestamp.UTC().Hour()] = struct{}{}
			if tx.MerchantCategory != "" {
				b.Categories[tx.MerchantCategory] = struct{}{}
			}
		}
		b.AverageAmount = stat.Mean(amounts, nil)
		b.HasAverage = true
		return b
	}

	if ac.Profile == nil {
		b.Source = "none"
		return b
	}

	b.Source = "profile"
	if ac.Profile.AverageTransactionAmount.IsPositive() {
		b.AverageAmount = ac.Profile.AverageTransactionAmount.InexactFloat64()
		b.HasAverage = true
	}
	for _, h := range ac.Profile.TypicalHours {
		b.Hours[h] = struct{}{}
	}
	for _, c := range ac.Profile.TypicalMerchantCategories {
		b.Categories[c] = struct{}{}
	}
	return b
}

// BehaviorChecker compares the transaction with the user's usual amount, hours and categories
type BehaviorChecker struct{}

func NewBehaviorChecker() *BehaviorChecker {
	return &BehaviorChecker{}
}

func (c *BehaviorChecker) Factor() Factor { return FactorBehavior }

func (c *BehaviorChecker) Check(_ context.Context, ac *AnalysisContext) FactorResult {
	tx := ac.Transaction
	b := BuildBehaviorBaseline(ac)

	detail := map[string]any{"baseline": b.Source}
	var reasons []ReasonCode
	points := 0.0

	if b.HasAverage && b.AverageAmount > 0 {
		amount := tx.Amount.InexactFloat64()
		detail["average_amount"] = b.AverageAmount
		detail["amount_ratio"] = amount / b.AverageAmount
		if amount > amountAnomalyMultiplier*b.AverageAmount {
			reasons = append(reasons, ReasonAmountAnomaly)
			points += behaviorHighPoints
		}
	}

	if len(b.Hours) > 0 {
		if _, ok := b.Hours[tx.Timestamp.UTC().Hour()]; !ok {
			reasons = append(reasons, ReasonUnusualHour)
			points += behaviorMediumPoints
		}
	}

	if len(b.Categories) > 0 && tx.MerchantCategory != "" {
		if _, ok := b.Categories[tx.MerchantCategory]; !ok {
			reasons = append(reasons, ReasonUnusualCategory)
			points += behaviorLowPoints
		}
	}

	return Violated(FactorBehavior, points, reasons, detail)
}
