package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"redemption-fraud-engine/internal/domain/fraud"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := Open(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	require.NoError(t, client.Migrate(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestProfileRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(newTestClient(t))
	lat, lon := 30.2672, -97.7431

	profile := &fraud.UserProfile{
		UserID:                    uuid.New(),
		AverageTransactionAmount:  decimal.NewFromInt(42),
		TypicalLocations:          []fraud.TypicalLocation{{Region: "US:Austin", Latitude: &lat, Longitude: &lon, Frequency: 9}},
		TypicalMerchantCategories: []string{"grocery", "fuel"},
		TypicalHours:              []int{8, 12, 18},
		KnownDeviceFingerprints:   []string{"fp-1"},
		RiskTier:                  fraud.RiskTierMedium,
	}
	require.NoError(t, repo.SaveProfile(ctx, profile))

	got, err := repo.GetUserProfile(ctx, profile.UserID)
	require.NoError(t, err)
	assert.True(t, profile.AverageTransactionAmount.Equal(got.AverageTransactionAmount))
	assert.Equal(t, profile.TypicalLocations, got.TypicalLocations)
	assert.Equal(t, profile.TypicalHours, got.TypicalHours)
	assert.Equal(t, fraud.RiskTierMedium, got.RiskTier)

	_, err = repo.GetUserProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrUserNotFound)

	card := &fraud.CardInfo{CardID: uuid.New(), UserID: profile.UserID, IssuingCountry: "US", Status: "active", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.SaveCard(ctx, card))
	gotCard, err := repo.GetCard(ctx, card.CardID)
	require.NoError(t, err)
	assert.Equal(t, "US", gotCard.IssuingCountry)

	_, err = repo.GetCard(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrCardNotFound)
}

func TestTransactionRepository_RecentWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository(newTestClient(t))
	user := uuid.New()
	now := time.Now().UTC()

	recent := fraud.Transaction{ID: uuid.New(), UserID: user, Amount: decimal.NewFromInt(10), Currency: "USD",
		Location: &fraud.Location{Country: "US", City: "Austin"}, Timestamp: now.Add(-time.Hour)}
	newest := fraud.Transaction{ID: uuid.New(), UserID: user, Amount: decimal.NewFromInt(20), Currency: "USD", Timestamp: now.Add(-time.Minute)}
	old := fraud.Transaction{ID: uuid.New(), UserID: user, Amount: decimal.NewFromInt(30), Currency: "USD", Timestamp: now.AddDate(0, 0, -45)}

	for _, tx := range []fraud.Transaction{recent, newest, old} {
		require.NoError(t, repo.RecordTransaction(ctx, tx))
	}
	require.NoError(t, repo.RecordTransaction(ctx, recent))

	txs, err := repo.GetRecentTransactions(ctx, user, 30)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, newest.ID, txs[0].ID)
	assert.Equal(t, recent.ID, txs[1].ID)
	assert.Equal(t, "US:Austin", txs[1].Location.Region())
	assert.Nil(t, txs[0].Location)
}

func TestDeviceRepository_RecordsFirstSighting(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviceRepository(newTestClient(t))
	user := uuid.New()

	require.NoError(t, repo.RecordDevice(ctx, user, fraud.DeviceRecord{Fingerprint: "fp-1", TrustFlags: []string{"rooted"}}))
	require.NoError(t, repo.RecordDevice(ctx, user, fraud.DeviceRecord{Fingerprint: "fp-1"}))
	require.NoError(t, repo.RecordDevice(ctx, uuid.New(), fraud.DeviceRecord{Fingerprint: "fp-1"}))

	history, err := repo.GetDeviceHistory(ctx, "fp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []string{"rooted"}, history[0].TrustFlags)

	empty, err := repo.GetDeviceHistory(ctx, "fp-unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestResultRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewResultRepository(client)

	tx := fraud.Transaction{ID: uuid.New(), UserID: uuid.New()}
	factors := []fraud.FactorResult{
		fraud.Violated(fraud.FactorDevice, 20, []fraud.ReasonCode{fraud.ReasonNewDevice}, map[string]any{"fingerprint": "fp-9"}),
		fraud.DegradedResult(fraud.FactorRules, "rule registry unavailable", nil),
		fraud.Pass(fraud.FactorVelocity, nil),
	}
	score := fraud.RiskScore{Composite: decimal.RequireFromString("3.00")}
	result := fraud.NewFraudAnalysisResult(tx, score, fraud.DecisionApprove, factors)
	result.Prediction = &fraud.Prediction{Probability: 0.2, Confidence: 0.8, ModelVersion: "v1"}
	result.Degraded = true

	require.NoError(t, repo.Append(ctx, result))
	assert.ErrorIs(t, repo.Append(ctx, result), fraud.ErrAnalysisAlreadyExists)

	got, err := repo.GetByID(ctx, result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, fraud.DecisionApprove, got.Decision)
	assert.True(t, got.RiskScore.Composite.Equal(decimal.NewFromInt(3)))
	assert.True(t, got.Degraded)
	require.Len(t, got.Factors, 3)
	assert.Equal(t, []fraud.ReasonCode{fraud.ReasonNewDevice}, got.Factors[0].Reasons())
	assert.True(t, got.Factors[1].IsDegraded())
	assert.Equal(t, "v1", got.Prediction.ModelVersion)

	err = client.DB().Model(&AnalysisResultModel{AnalysisID: result.AnalysisID}).Update("decision", "BLOCK_CARD").Error
	assert.ErrorIs(t, err, ErrAppendOnly)

	second := fraud.NewFraudAnalysisResult(tx, score, fraud.DecisionApprove, factors)
	second.Timestamp = result.Timestamp.Add(time.Second)
	require.NoError(t, repo.Append(ctx, second))

	list, err := repo.ListByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.AnalysisID, list[0].AnalysisID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrAnalysisNotFound)
}

func TestRuleRepository_SaveAndListEnabled(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository(newTestClient(t))
	window := time.Hour

	highAmount := &fraud.FraudRule{
		Type:      fraud.RuleTypeAmount,
		Name:      "high amount",
		Condition: fraud.RuleCondition{Field: "transaction.amount", Operator: fraud.OpGreaterThan, Value: 500.0},
		Weight:    20,
		Enabled:   true,
	}
	burst := &fraud.FraudRule{
		Type:      fraud.RuleTypeVelocity,
		Name:      "burst",
		Condition: fraud.RuleCondition{Field: "history.count", Operator: fraud.OpGreaterThan, Value: 5.0, TimeWindow: &window},
		Weight:    10,
		Enabled:   true,
	}
	require.NoError(t, repo.Save(ctx, highAmount))
	require.NoError(t, repo.Save(ctx, burst))
	assert.Error(t, repo.Save(ctx, &fraud.FraudRule{Name: "broken", Type: "bogus", Condition: fraud.RuleCondition{Field: "x"}}))

	rules, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "burst", rules[0].Name)
	require.NotNil(t, rules[0].Condition.TimeWindow)
	assert.Equal(t, time.Hour, *rules[0].Condition.TimeWindow)
	assert.Equal(t, 500.0, rules[1].Condition.Value)

	require.NoError(t, repo.Disable(ctx, burst.ID))
	assert.ErrorIs(t, repo.Disable(ctx, uuid.New()), fraud.ErrRuleNotFound)

	rules, err = repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
