package fraud

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func coords(lat, lon float64) *Location {
	return &Location{Country: "US", City: "test", Latitude: &lat, Longitude: &lon}
}

func newTx(userID uuid.UUID, amount int64, at time.Time) Transaction {
	return Transaction{
		ID:                uuid.New(),
		UserID:            userID,
		CardID:            uuid.New(),
		Amount:            decimal.NewFromInt(amount),
		Currency:          "USD",
		MerchantCategory:  "restaurant",
		Timestamp:         at,
		DeviceFingerprint: "fp-1",
	}
}

func TestVelocity_CountsCurrentTransaction(t *testing.T) {
	user := uuid.New()
	checker := NewVelocityChecker(DefaultVelocityLimits())

	history := make([]Transaction, 0, 20)
	for i := 1; i <= 20; i++ {
		history = append(history, newTx(user, 1, baseTime.Add(-time.Duration(i)*time.Minute)))
	}

	ac := &AnalysisContext{Transaction: newTx(user, 1, baseTime), RecentTransactions: history}
	result := checker.Check(context.Background(), ac)

	assert.Equal(t, []ReasonCode{ReasonHourlyCountExceeded}, result.Reasons())
	assert.Equal(t, 15.0, result.Contribution())
	assert.Equal(t, 21, result.Detail["hourly_count"])
}

func TestVelocity_AtLimitPasses(t *testing.T) {
	user := uuid.New()
	checker := NewVelocityChecker(DefaultVelocityLimits())

	history := make([]Transaction, 0, 19)
	for i := 1; i <= 19; i++ {
		history = append(history, newTx(user, 1, baseTime.Add(-time.Duration(i)*time.Minute)))
	}

	ac := &AnalysisContext{Transaction: newTx(user, 1, baseTime), RecentTransactions: history}
	result := checker.Check(context.Background(), ac)

	assert.IsType(t, NoViolation{}, result.Outcome)
	assert.Zero(t, result.Contribution())
}

func TestVelocity_MultipleViolations(t *testing.T) {
	user := uuid.New()
	checker := NewVelocityChecker(DefaultVelocityLimits())

	history := []Transaction{
		newTx(user, 4000, baseTime.Add(-30*time.Minute)),
		newTx(user, 4000, baseTime.Add(-5*time.Hour)),
		newTx(user, 9999, baseTime.Add(-48*time.Hour)),
	}

	ac := &AnalysisContext{Transaction: newTx(user, 1500, baseTime), RecentTransactions: history}
	result := checker.Check(context.Background(), ac)

	assert.ElementsMatch(t, []ReasonCode{ReasonHourlyAmountExceeded}, result.Reasons())

	ac.Transaction.Amount = decimal.NewFromInt(2500)
	result = checker.Check(context.Background(), ac)
	assert.ElementsMatch(t, []ReasonCode{ReasonHourlyAmountExceeded, ReasonDailyAmountExceeded}, result.Reasons())
	assert.Equal(t, 30.0, result.Contribution())
}

func TestComputeVelocity_UniqueCounts(t *testing.T) {
	user := uuid.New()
	a := newTx(user, 10, baseTime.Add(-2*time.Hour))
	a.Location = &Location{Country: "US", City: "Boston"}
	a.MerchantCategory = "grocery"
	b := newTx(user, 10, baseTime.Add(-3*time.Hour))
	b.Location = &Location{Country: "US", City: "Austin"}

	current := newTx(user, 10, baseTime)
	current.Location = &Location{Country: "US", City: "Boston"}

	m := ComputeVelocity(&AnalysisContext{Transaction: current, RecentTransactions: []Transaction{a, b}})
	assert.Equal(t, 2, m.UniqueLocationsDay)
	assert.Equal(t, 2, m.UniqueMerchantsDay)
	assert.Equal(t, 3, m.DailyCount)
	assert.Equal(t, 1, m.HourlyCount)
}

func TestLocation_ImpossibleTravel(t *testing.T) {
	user := uuid.New()
	checker := NewLocationChecker(DefaultLocationLimits())

	prev := newTx(user, 10, baseTime.Add(-time.Minute))
	prev.Location = coords(40.7128, -74.0060) // New York

	current := newTx(user, 10, baseTime)
	current.Location = coords(41.8781, -87.6298) // Chicago, ~1145 km

	ac := &AnalysisContext{Transaction: current, RecentTransactions: []Transaction{prev}}
	result := checker.Check(context.Background(), ac)

	assert.Equal(t, []ReasonCode{ReasonImpossibleTravel}, result.Reasons())
	assert.Equal(t, 40.0, result.Contribution())
}

func TestLocation_SameTimestampDifferentPlace(t *testing.T) {
	user := uuid.New()
	checker := NewLocationChecker(DefaultLocationLimits())

	prev := newTx(user, 10, baseTime)
	prev.Location = coords(51.5074, -0.1278)
	current := newTx(user, 10, baseTime)
	current.Location = coords(51.6, -0.1278)

	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, RecentTransactions: []Transaction{prev}})
	assert.Equal(t, []ReasonCode{ReasonImpossibleTravel}, result.Reasons())
	assert.Equal(t, "infinite", result.Detail["speed_kmh"])
}

func TestLocation_UnusualLocation(t *testing.T) {
	user := uuid.New()
	checker := NewLocationChecker(DefaultLocationLimits())

	prev := newTx(user, 10, baseTime.Add(-48*time.Hour))
	prev.Location = coords(40.7128, -74.0060)

	current := newTx(user, 10, baseTime)
	current.Location = coords(41.8781, -87.6298)

	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, RecentTransactions: []Transaction{prev}})
	assert.Equal(t, []ReasonCode{ReasonUnusualLocation}, result.Reasons())
	assert.Equal(t, 25.0, result.Contribution())
}

func TestLocation_NearbyIsUsual(t *testing.T) {
	user := uuid.New()
	checker := NewLocationChecker(DefaultLocationLimits())

	prev := newTx(user, 10, baseTime.Add(-48*time.Hour))
	prev.Location = coords(40.7128, -74.0060)
	current := newTx(user, 10, baseTime)
	current.Location = coords(40.7306, -73.9352)

	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, RecentTransactions: []Transaction{prev}})
	assert.IsType(t, NoViolation{}, result.Outcome)
}

func TestLocation_ProfileRegionMatch(t *testing.T) {
	checker := NewLocationChecker(DefaultLocationLimits())
	current := newTx(uuid.New(), 10, baseTime)
	current.Location = &Location{Country: "DE", City: "Berlin"}

	profile := &UserProfile{TypicalLocations: []TypicalLocation{{Region: "DE:Berlin", Frequency: 10}}}
	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, Profile: profile})
	assert.IsType(t, NoViolation{}, result.Outcome)

	profile.TypicalLocations[0].Region = "DE:Munich"
	result = checker.Check(context.Background(), &AnalysisContext{Transaction: current, Profile: profile})
	assert.Equal(t, []ReasonCode{ReasonUnusualLocation}, result.Reasons())
}

func TestLocation_NoLocationOrBaselinePasses(t *testing.T) {
	checker := NewLocationChecker(DefaultLocationLimits())

	current := newTx(uuid.New(), 10, baseTime)
	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current})
	assert.IsType(t, NoViolation{}, result.Outcome)
	assert.Equal(t, "no_location", result.Detail["skipped"])

	current.Location = coords(10, 10)
	result = checker.Check(context.Background(), &AnalysisContext{Transaction: current})
	assert.IsType(t, NoViolation{}, result.Outcome)
	assert.Equal(t, "no_location_baseline", result.Detail["skipped"])
}

func TestLocation_UsesResolvedLocation(t *testing.T) {
	checker := NewLocationChecker(DefaultLocationLimits())
	current := newTx(uuid.New(), 10, baseTime)

	profile := &UserProfile{TypicalLocations: []TypicalLocation{{Region: "FR:Paris"}}}
	ac := &AnalysisContext{Transaction: current, Location: &Location{Country: "BR", City: "Recife"}, Profile: profile}

	result := checker.Check(context.Background(), ac)
	assert.Equal(t, []ReasonCode{ReasonUnusualLocation}, result.Reasons())
	assert.Nil(t, current.Location)
}

func TestHaversineKm(t *testing.T) {
	d := HaversineKm(40.7128, -74.0060, 34.0522, -118.2437)
	assert.InDelta(t, 3936, d, 10)
	assert.Zero(t, HaversineKm(1, 1, 1, 1))
}

func TestBehavior_AllSignals(t *testing.T) {
	user := uuid.New()
	checker := NewBehaviorChecker()

	history := []Transaction{
		newTx(user, 20, baseTime.Add(-24*time.Hour)),
		newTx(user, 40, baseTime.Add(-48*time.Hour)),
	}
	current := newTx(user, 100, baseTime.Add(-11*time.Hour)) // 03:00, avg 30
	current.MerchantCategory = "electronics"

	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, RecentTransactions: history})
	assert.ElementsMatch(t, []ReasonCode{ReasonAmountAnomaly, ReasonUnusualHour, ReasonUnusualCategory}, result.Reasons())
	assert.Equal(t, 35.0, result.Contribution())
	assert.Equal(t, "history", result.Detail["baseline"])
}

func TestBehavior_FallsBackToProfile(t *testing.T) {
	checker := NewBehaviorChecker()
	profile := &UserProfile{
		AverageTransactionAmount:  decimal.NewFromInt(50),
		TypicalHours:              []int{14},
		TypicalMerchantCategories: []string{"restaurant"},
	}

	current := newTx(uuid.New(), 200, baseTime)
	result := checker.Check(context.Background(), &AnalysisContext{Transaction: current, Profile: profile})

	assert.Equal(t, []ReasonCode{ReasonAmountAnomaly}, result.Reasons())
	assert.Equal(t, 20.0, result.Contribution())
	assert.Equal(t, "profile", result.Detail["baseline"])
}

func TestBehavior_NoBaselineSkipsChecks(t *testing.T) {
	checker := NewBehaviorChecker()
	result := checker.Check(context.Background(), &AnalysisContext{Transaction: newTx(uuid.New(), 10000, baseTime)})
	assert.IsType(t, NoViolation{}, result.Outcome)
}

func TestDevice(t *testing.T) {
	checker := NewDeviceChecker()
	user := uuid.New()

	t.Run("missing fingerprint", func(t *testing.T) {
		tx := newTx(user, 10, baseTime)
		tx.DeviceFingerprint = ""
		result := checker.Check(context.Background(), &AnalysisContext{Transaction: tx})
		assert.Equal(t, []ReasonCode{ReasonNoDeviceFingerprint}, result.Reasons())
		assert.Equal(t, 15.0, result.Contribution())
	})

	t.Run("new device", func(t *testing.T) {
		result := checker.Check(context.Background(), &AnalysisContext{Transaction: newTx(user, 10, baseTime)})
		assert.Equal(t, []ReasonCode{ReasonNewDevice}, result.Reasons())
		assert.Equal(t, 20.0, result.Contribution())
	})

	t.Run("known from profile", func(t *testing.T) {
		profile := &UserProfile{KnownDeviceFingerprints: []string{"fp-1"}}
		result := checker.Check(context.Background(), &AnalysisContext{Transaction: newTx(user, 10, baseTime), Profile: profile})
		assert.IsType(t, NoViolation{}, result.Outcome)
	})

	t.Run("anomaly flag", func(t *testing.T) {
		history := []DeviceRecord{{Fingerprint: "fp-1", FirstSeen: baseTime.Add(-time.Hour), TrustFlags: []string{"Rooted"}}}
		result := checker.Check(context.Background(), &AnalysisContext{Transaction: newTx(user, 10, baseTime), DeviceHistory: history})
		assert.Equal(t, []ReasonCode{ReasonDeviceAnomaly}, result.Reasons())
		assert.Equal(t, 25.0, result.Contribution())
	})

	t.Run("trusted", func(t *testing.T) {
		history := []DeviceRecord{{Fingerprint: "fp-1", FirstSeen: baseTime.Add(-time.Hour), TrustFlags: []string{"verified"}}}
		result := checker.Check(context.Background(), &AnalysisContext{Transaction: newTx(user, 10, baseTime), DeviceHistory: history})
		assert.IsType(t, NoViolation{}, result.Outcome)
	})
}

func TestFactorResult_JSON(t *testing.T) {
	in := []FactorResult{
		Violated(FactorDevice, 20, []ReasonCode{ReasonNewDevice}, map[string]any{"fingerprint": "fp"}),
		DegradedResult(FactorML, "timeout", context.DeadlineExceeded),
		Pass(FactorRules, nil),
	}

	result := &FraudAnalysisResult{Factors: in}
	data, err := jsonRoundTrip(result)
	require.NoError(t, err)

	require.Len(t, data.Factors, 3)
	assert.Equal(t, []ReasonCode{ReasonNewDevice}, data.Factors[0].Reasons())
	assert.Equal(t, 20.0, data.Factors[0].Contribution())
	assert.True(t, data.Factors[1].IsDegraded())
	assert.IsType(t, NoViolation{}, data.Factors[2].Outcome)
}

func jsonRoundTrip(in *FraudAnalysisResult) (*FraudAnalysisResult, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out FraudAnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
