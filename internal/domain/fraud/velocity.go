package fraud

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const velocityViolationPoints = 15

// VelocityLimits are the maximum allowed values per window
type VelocityLimits struct {
	MaxHourlyCount  int             `json:"max_hourly_count"`
	MaxDailyCount   int             `json:"max_daily_count"`
	MaxHourlyAmount decimal.Decimal `json:"max_hourly_amount"`
	MaxDailyAmount  decimal.Decimal `json:"max_daily_amount"`
}

// DefaultVelocityLimits returns the default limits
func DefaultVelocityLimits() VelocityLimits {
	return VelocityLimits{
		MaxHourlyCount:  20,
		MaxDailyCount:   50,
		MaxHourlyAmount: decimal.NewFromInt(5000),
		MaxDailyAmount:  decimal.NewFromInt(10000),
	}
}

// VelocityMetrics are derived from history on every analysis and never stored
type VelocityMetrics struct {
	HourlyCount        int             `json:"hourly_count"`
	DailyCount         int             `json:"daily_count"`
	HourlyAmount       decimal.Decimal `json:"hourly_amount"`
	DailyAmount        decimal.Decimal `json:"daily_amount"`
	UniqueLocationsDay int             `json:"unique_locations_day"`
	UniqueMerchantsDay int             `json:"unique_merchants_day"`
}

// ComputeVelocity derives velocity metrics for the analysed transaction.
// Windows end at the transaction timestamp and include the transaction itself.
func ComputeVelocity(ac *AnalysisContext) VelocityMetrics {
	tx := ac.Transaction
	m := VelocityMetrics{
		HourlyCount:  1,
		DailyCount:   1,
		HourlyAmount: tx.Amount,
		DailyAmount:  tx.Amount,
	}

	locations := map[string]struct{}{}
	merchants := map[string]struct{}{}
	if loc := ac.EffectiveLocation(); loc != nil {
		locations[loc.Region()] = struct{}{}
	}
	if tx.MerchantCategory != "" {
		merchants[tx.MerchantCategory] = struct{}{}
	}

	hourAgo := tx.Timestamp.Add(-time.Hour)
	for _, h := range ac.HistoryWithin(24 * time.Hour) {
		m.DailyCount++
		m.DailyAmount = m.DailyAmount.Add(h.Amount)
		if h.Timestamp.After(hourAgo) {
			m.HourlyCount++
			m.HourlyAmount = m.HourlyAmount.Add(h.Amount)
		}
		if h.Location != nil {
			locations[h.Location.Region()] = struct{}{}
		}
		if h.MerchantCategory != "" {
			merchants[h.MerchantCategory] = struct{}{}
		}
	}

	m.UniqueLocationsDay = len(locations)
	m.UniqueMerchantsDay = len(merchants)
	return m
}

// VelocityChecker flags users redeeming too often or too much in a short time
type VelocityChecker struct {
	limits VelocityLimits
}

func NewVelocityChecker(limits VelocityLimits) *VelocityChecker {
	return &VelocityChecker{limits: limits}
}

func (c *VelocityChecker) Factor() Factor { return FactorVelocity }

func (c *VelocityChecker) Check(_ context.Context, ac *AnalysisContext) FactorResult {
	m := ComputeVelocity(ac)

	var reasons []ReasonCode
	if m.HourlyCount > c.limits.MaxHourlyCount {
		reasons = append(reasons, ReasonHourlyCountExceeded)
	}
	if m.DailyCount > c.limits.MaxDailyCount {
		reasons = append(reasons, ReasonDailyCountExceeded)
	}
	if m.HourlyAmount.GreaterThan(c.limits.MaxHourlyAmount) {
		reasons = append(reasons, ReasonHourlyAmountExceeded)
	}
	if m.DailyAmount.GreaterThan(c.limits.MaxDailyAmount) {
		reasons = append(reasons, ReasonDailyAmountExceeded)
	}

	detail := map[string]any{
		"hourly_count":         m.HourlyCount,
		"daily_count":          m.DailyCount,
		"hourly_amount":        m.HourlyAmount.String(),
		"daily_amount":         m.DailyAmount.String(),
		"unique_locations_day": m.UniqueLocationsDay,
		"unique_merchants_day": m.UniqueMerchantsDay,
	}
	return Violated(FactorVelocity, float64(len(reasons)*velocityViolationPoints), reasons, detail)
}
