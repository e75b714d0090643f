package rules

import (
	"errors"
	"fmt"
	"math"
	"time"

	"redemption-fraud-engine/internal/domain/fraud"
)

var (
	ErrUnknownField        = errors.New("unknown rule field")
	ErrTypeMismatch        = errors.New("rule value type does not match field")
	ErrUnsupportedOperator = errors.New("unsupported rule operator")
	// ErrFieldUnavailable means the field exists but the context has no data for it
	ErrFieldUnavailable = errors.New("rule field has no data")
)

// fieldResolver reads one field from an analysis context.
// window is zero unless the rule sets a time window.
type fieldResolver func(ac *fraud.AnalysisContext, window time.Duration) (any, error)

var fields = map[string]fieldResolver{
	// transaction
	"transaction.amount": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return ac.Transaction.Amount.InexactFloat64(), nil
	},
	"transaction.currency": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return ac.Transaction.Currency, nil
	},
	"transaction.merchantCategory": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return ac.Transaction.MerchantCategory, nil
	},
	"transaction.hour": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return float64(ac.Transaction.Timestamp.UTC().Hour()), nil
	},
	"transaction.dayOfWeek": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return float64(ac.Transaction.Timestamp.UTC().Weekday()), nil
	},
	"transaction.deviceFingerprint": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return ac.Transaction.DeviceFingerprint, nil
	},
	"transaction.ipAddress": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return ac.Transaction.IPAddress, nil
	},
	"transaction.location.country": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		loc := ac.EffectiveLocation()
		if loc == nil {
			return nil, ErrFieldUnavailable
		}
		return loc.Country, nil
	},
	"transaction.location.city": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		loc := ac.EffectiveLocation()
		if loc == nil {
			return nil, ErrFieldUnavailable
		}
		return loc.City, nil
	},

	// profile
	"profile.riskTier": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Profile == nil {
			return nil, ErrFieldUnavailable
		}
		return string(ac.Profile.RiskTier), nil
	},
	"profile.averageAmount": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Profile == nil {
			return nil, ErrFieldUnavailable
		}
		return ac.Profile.AverageTransactionAmount.InexactFloat64(), nil
	},
	"profile.accountAgeDays": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Profile == nil || ac.Profile.CreatedAt.IsZero() {
			return nil, ErrFieldUnavailable
		}
		return math.Floor(ac.Transaction.Timestamp.Sub(ac.Profile.CreatedAt).Hours() / 24), nil
	},
	"profile.typicalMerchantCategories": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Profile == nil {
			return nil, ErrFieldUnavailable
		}
		return ac.Profile.TypicalMerchantCategories, nil
	},
	"profile.knownDeviceCount": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Profile == nil {
			return nil, ErrFieldUnavailable
		}
		return float64(len(ac.Profile.KnownDeviceFingerprints)), nil
	},

	// card
	"card.issuingCountry": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Card == nil {
			return nil, ErrFieldUnavailable
		}
		return ac.Card.IssuingCountry, nil
	},
	"card.status": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Card == nil {
			return nil, ErrFieldUnavailable
		}
		return ac.Card.Status, nil
	},
	"card.ageDays": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		if ac.Card == nil || ac.Card.CreatedAt.IsZero() {
			return nil, ErrFieldUnavailable
		}
		return math.Floor(ac.Transaction.Timestamp.Sub(ac.Card.CreatedAt).Hours() / 24), nil
	},

	// velocity
	"velocity.hourlyCount": velocityField(func(m fraud.VelocityMetrics) any { return float64(m.HourlyCount) }),
	"velocity.dailyCount":  velocityField(func(m fraud.VelocityMetrics) any { return float64(m.DailyCount) }),
	"velocity.hourlyAmount": velocityField(func(m fraud.VelocityMetrics) any {
		return m.HourlyAmount.InexactFloat64()
	}),
	"velocity.dailyAmount": velocityField(func(m fraud.VelocityMetrics) any {
		return m.DailyAmount.InexactFloat64()
	}),
	"velocity.uniqueLocationsDay": velocityField(func(m fraud.VelocityMetrics) any { return float64(m.UniqueLocationsDay) }),
	"velocity.uniqueMerchantsDay": velocityField(func(m fraud.VelocityMetrics) any { return float64(m.UniqueMerchantsDay) }),

	// history
	"history.count": func(ac *fraud.AnalysisContext, window time.Duration) (any, error) {
		return float64(len(history(ac, window))), nil
	},
	"history.amountSum": func(ac *fraud.AnalysisContext, window time.Duration) (any, error) {
		sum := 0.0
		for _, tx := range history(ac, window) {
			sum += tx.Amount.InexactFloat64()
		}
		return sum, nil
	},
	"history.merchantCategories": func(ac *fraud.AnalysisContext, window time.Duration) (any, error) {
		var out []string
		seen := map[string]struct{}{}
		for _, tx := range history(ac, window) {
			if _, ok := seen[tx.MerchantCategory]; ok || tx.MerchantCategory == "" {
				continue
			}
			seen[tx.MerchantCategory] = struct{}{}
			out = append(out, tx.MerchantCategory)
		}
		return out, nil
	},
	"history.countries": func(ac *fraud.AnalysisContext, window time.Duration) (any, error) {
		var out []string
		seen := map[string]struct{}{}
		for _, tx := range history(ac, window) {
			if tx.Location == nil || tx.Location.Country == "" {
				continue
			}
			if _, ok := seen[tx.Location.Country]; ok {
				continue
			}
			seen[tx.Location.Country] = struct{}{}
			out = append(out, tx.Location.Country)
		}
		return out, nil
	},

	// device
	"device.known": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		fp := ac.Transaction.DeviceFingerprint
		if fp == "" {
			return false, nil
		}
		for _, r := range ac.DeviceHistory {
			if r.Fingerprint == fp {
				return true, nil
			}
		}
		return ac.Profile.KnowsDevice(fp), nil
	},
	"device.flags": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		var flags []string
		for _, r := range ac.DeviceHistory {
			if r.Fingerprint == ac.Transaction.DeviceFingerprint {
				flags = append(flags, r.TrustFlags...)
			}
		}
		return flags, nil
	},
	"device.historyCount": func(ac *fraud.AnalysisContext, _ time.Duration) (any, error) {
		return float64(len(ac.DeviceHistory)), nil
	},
}

// Fields lists every field a rule condition may reference
func Fields() []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	return out
}

func resolve(field string, ac *fraud.AnalysisContext, window time.Duration) (any, error) {
	fn, ok := fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return fn(ac, window)
}

func history(ac *fraud.AnalysisContext, window time.Duration) []fraud.Transaction {
	if window <= 0 {
		return ac.RecentTransactions
	}
	return ac.HistoryWithin(window)
}

// velocityField computes velocity over the whole history, or only the
// rule's time window when one is set
func velocityField(pick func(fraud.VelocityMetrics) any) fieldResolver {
	return func(ac *fraud.AnalysisContext, window time.Duration) (any, error) {
		if window <= 0 {
			return pick(fraud.ComputeVelocity(ac)), nil
		}
		scoped := *ac
		scoped.RecentTransactions = ac.HistoryWithin(window)
		return pick(fraud.ComputeVelocity(&scoped)), nil
	}
}

// KnownField reports whether a rule condition may reference name
func KnownField(name string) bool {
	_, ok := fields[name]
	return ok
}
