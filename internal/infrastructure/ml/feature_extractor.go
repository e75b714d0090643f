package ml

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"redemption-fraud-engine/internal/domain/fraud"
)

const newSubscriberDays = 30

// featureNames fixes the order of the model input
var featureNames = []string{
	// user
	"account_age_days",
	"is_new_subscriber",
	"risk_tier",
	"avg_transaction_amount",
	"known_device_count",
	// context
	"amount",
	"amount_log",
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"is_night",
	"is_known_location",
	"is_cross_border",
	"location_change",
	"distance_from_last_km",
	"is_known_device",
	"device_change",
	"has_device_anomaly",
	// historical aggregates
	"tx_count_1h",
	"tx_count_24h",
	"tx_amount_1h",
	"tx_amount_24h",
	"unique_locations_24h",
	"unique_merchants_24h",
	"tx_count_30d",
	"amount_zscore",
	"hours_since_last_tx",
	// seasonal
	"is_holiday_season",
}

// FeatureNames returns the feature order expected by the model
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Features represents the feature vector for ML prediction
type Features struct {
	// User features
	AccountAgeDays       float64 `json:"account_age_days"`
	IsNewSubscriber      float64 `json:"is_new_subscriber"` // 0 or 1
	RiskTier             float64 `json:"risk_tier"`         // 0 low, 1 medium, 2 high
	AvgTransactionAmount float64 `json:"avg_transaction_amount"`
	KnownDeviceCount     float64 `json:"known_device_count"`

	// Transaction context features
	Amount             float64 `json:"amount"`
	AmountLog          float64 `json:"amount_log"`
	HourOfDay          float64 `json:"hour_of_day"`
	DayOfWeek          float64 `json:"day_of_week"`
	IsWeekend          float64 `json:"is_weekend"`
	IsNight            float64 `json:"is_night"`
	IsKnownLocation    float64 `json:"is_known_location"`
	IsCrossBorder      float64 `json:"is_cross_border"`
	LocationChange     float64 `json:"location_change"`
	DistanceFromLastKm float64 `json:"distance_from_last_km"`
	IsKnownDevice      float64 `json:"is_known_device"`
	DeviceChange       float64 `json:"device_change"`
	HasDeviceAnomaly   float64 `json:"has_device_anomaly"`

	// Historical aggregates
	TxCount1h          float64 `json:"tx_count_1h"`
	TxCount24h         float64 `json:"tx_count_24h"`
	TxAmount1h         float64 `json:"tx_amount_1h"`
	TxAmount24h        float64 `json:"tx_amount_24h"`
	UniqueLocations24h float64 `json:"unique_locations_24h"`
	UniqueMerchants24h float64 `json:"unique_merchants_24h"`
	TxCount30d         float64 `json:"tx_count_30d"`
	AmountZScore       float64 `json:"amount_zscore"`
	HoursSinceLastTx   float64 `json:"hours_since_last_tx"`

	// Seasonal
	IsHolidaySeason float64 `json:"is_holiday_season"`
}

// FeatureExtractor builds model features from an analysis context
type FeatureExtractor struct{}

// NewFeatureExtractor creates a new feature extractor
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract extracts features from an analysis context
func (e *FeatureExtractor) Extract(ac *fraud.AnalysisContext) *Features {
	tx := ac.Transaction
	ts := tx.Timestamp.UTC()
	f := &Features{}

	// User features
	if p := ac.Profile; p != nil {
		if !p.CreatedAt.IsZero() {
			f.AccountAgeDays = math.Max(0, ts.Sub(p.CreatedAt).Hours()/24)
			if f.AccountAgeDays < newSubscriberDays {
				f.IsNewSubscriber = 1
			}
		}
		f.RiskTier = riskTierValue(p.RiskTier)
		f.AvgTransactionAmount = p.AverageTransactionAmount.InexactFloat64()
		f.KnownDeviceCount = float64(len(p.KnownDeviceFingerprints))
	}

	// Transaction context features
	f.Amount = tx.Amount.InexactFloat64()
	f.AmountLog = logAmount(f.Amount)
	f.HourOfDay = float64(ts.Hour())
	f.DayOfWeek = float64(ts.Weekday())
	if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
		f.IsWeekend = 1
	}
	if ts.Hour() >= 22 || ts.Hour() <= 5 {
		f.IsNight = 1
	}

	loc := ac.EffectiveLocation()
	if loc != nil {
		if ac.Card != nil && ac.Card.IssuingCountry != "" && loc.Country != ac.Card.IssuingCountry {
			f.IsCrossBorder = 1
		}
		if ac.Profile != nil {
			for _, tl := range ac.Profile.TypicalLocations {
				if tl.Region == loc.Region() {
					f.IsKnownLocation = 1
					break
				}
			}
		}
	}

	if prev := ac.PreviousTransaction(); prev != nil {
		f.HoursSinceLastTx = ts.Sub(prev.Timestamp).Hours()
		if prev.Location != nil && loc != nil {
			if prev.Location.Region() != loc.Region() {
				f.LocationChange = 1
			}
			if prev.Location.HasCoordinates() && loc.HasCoordinates() {
				f.DistanceFromLastKm = fraud.HaversineKm(*prev.Location.Latitude, *prev.Location.Longitude, *loc.Latitude, *loc.Longitude)
			}
		}
		if prev.DeviceFingerprint != "" && tx.DeviceFingerprint != "" && prev.DeviceFingerprint != tx.DeviceFingerprint {
			f.DeviceChange = 1
		}
	}

	if fp := tx.DeviceFingerprint; fp != "" {
		if ac.Profile.KnowsDevice(fp) {
			f.IsKnownDevice = 1
		}
		for _, r := range ac.DeviceHistory {
			if r.Fingerprint != fp {
				continue
			}
			f.IsKnownDevice = 1
			for _, flag := range r.TrustFlags {
				if fraud.IsAnomalyFlag(flag) {
					f.HasDeviceAnomaly = 1
				}
			}
		}
	}

	// Historical aggregates
	v := fraud.ComputeVelocity(ac)
	f.TxCount1h = float64(v.HourlyCount)
	f.TxCount24h = float64(v.DailyCount)
	f.TxAmount1h = v.HourlyAmount.InexactFloat64()
	f.TxAmount24h = v.DailyAmount.InexactFloat64()
	f.UniqueLocations24h = float64(v.UniqueLocationsDay)
	f.UniqueMerchants24h = float64(v.UniqueMerchantsDay)
	f.TxCount30d = float64(len(ac.RecentTransactions))
	f.AmountZScore = amountZScore(f.Amount, ac.RecentTransactions)

	// Seasonal
	if ts.Month() == time.November || ts.Month() == time.December {
		f.IsHolidaySeason = 1
	}

	return f
}

// Vector converts features to the model input in featureNames order
func (f *Features) Vector() fraud.FeatureVector {
	return fraud.FeatureVector{
		Names: FeatureNames(),
		Values: []float64{
			f.AccountAgeDays,
			f.IsNewSubscriber,
			f.RiskTier,
			f.AvgTransactionAmount,
			f.KnownDeviceCount,
			f.Amount,
			f.AmountLog,
			f.HourOfDay,
			f.DayOfWeek,
			f.IsWeekend,
			f.IsNight,
			f.IsKnownLocation,
			f.IsCrossBorder,
			f.LocationChange,
			f.DistanceFromLastKm,
			f.IsKnownDevice,
			f.DeviceChange,
			f.HasDeviceAnomaly,
			f.TxCount1h,
			f.TxCount24h,
			f.TxAmount1h,
			f.TxAmount24h,
			f.UniqueLocations24h,
			f.UniqueMerchants24h,
			f.TxCount30d,
			f.AmountZScore,
			f.HoursSinceLastTx,
			f.IsHolidaySeason,
		},
	}
}

// amountZScore is how many standard deviations the amount is from the history mean
func amountZScore(amount float64, history []fraud.Transaction) float64 {
	if len(history) < 2 {
		return 0
	}
	amounts := make([]float64, len(history))
	for i, tx := range history {
		amounts[i] = tx.Amount.InexactFloat64()
	}
	mean, std := stat.MeanStdDev(amounts, nil)
	if std == 0 {
		return 0
	}
	return stat.StdScore(amount, mean, std)
}

func riskTierValue(t fraud.RiskTier) float64 {
	switch t {
	case fraud.RiskTierMedium:
		return 1
	case fraud.RiskTierHigh:
		return 2
	default:
		return 0
	}
}

func logAmount(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	return math.Log10(amount + 1)
}
