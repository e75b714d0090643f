package ml

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"redemption-fraud-engine/internal/domain/fraud"
)

type stubModel struct {
	prediction fraud.Prediction
	err        error
	delay      time.Duration
}

func (s stubModel) PredictFraud(ctx context.Context, _ fraud.FeatureVector) (fraud.Prediction, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return fraud.Prediction{}, ctx.Err()
		}
	}
	return s.prediction, s.err
}

func analysisContext() *fraud.AnalysisContext {
	user := uuid.New()
	now := time.Date(2024, 12, 7, 23, 30, 0, 0, time.UTC) // Saturday night in December
	lat, lon := 40.7128, -74.0060
	return &fraud.AnalysisContext{
		Transaction: fraud.Transaction{
			ID:                uuid.New(),
			UserID:            user,
			Amount:            decimal.NewFromInt(400),
			MerchantCategory:  "electronics",
			Location:          &fraud.Location{Country: "US", City: "New York", Latitude: &lat, Longitude: &lon},
			Timestamp:         now,
			DeviceFingerprint: "fp-new",
		},
		Profile: &fraud.UserProfile{
			UserID:    user,
			RiskTier:  fraud.RiskTierMedium,
			CreatedAt: now.Add(-10 * 24 * time.Hour),
		},
		Card: &fraud.CardInfo{IssuingCountry: "GB"},
		RecentTransactions: []fraud.Transaction{
			{ID: uuid.New(), Amount: decimal.NewFromInt(20), Timestamp: now.Add(-2 * time.Hour), DeviceFingerprint: "fp-old",
				Location: &fraud.Location{Country: "US", City: "Boston"}},
			{ID: uuid.New(), Amount: decimal.NewFromInt(40), Timestamp: now.Add(-30 * time.Hour)},
		},
	}
}

func TestFeatureExtractor_Extract(t *testing.T) {
	f := NewFeatureExtractor().Extract(analysisContext())

	assert.Equal(t, 1.0, f.IsNewSubscriber)
	assert.InDelta(t, 10, f.AccountAgeDays, 0.01)
	assert.Equal(t, 1.0, f.RiskTier)
	assert.Equal(t, 1.0, f.IsWeekend)
	assert.Equal(t, 1.0, f.IsNight)
	assert.Equal(t, 1.0, f.IsCrossBorder)
	assert.Equal(t, 1.0, f.LocationChange)
	assert.Equal(t, 1.0, f.DeviceChange)
	assert.Equal(t, 0.0, f.IsKnownDevice)
	assert.Equal(t, 1.0, f.IsHolidaySeason)
	assert.Equal(t, 2.0, f.TxCount24h)
	assert.Equal(t, 2.0, f.TxCount30d)
	assert.InDelta(t, 2.0, f.HoursSinceLastTx, 0.001)
	// mean 30, sample std ~14.14
	assert.InDelta(t, 26.16, f.AmountZScore, 0.01)
}

func TestFeatures_VectorShapeIsFixed(t *testing.T) {
	full := NewFeatureExtractor().Extract(analysisContext()).Vector()
	empty := NewFeatureExtractor().Extract(&fraud.AnalysisContext{Transaction: fraud.Transaction{Timestamp: time.Now()}}).Vector()

	assert.Len(t, full.Values, len(featureNames))
	assert.Equal(t, full.Names, empty.Names)
	assert.Len(t, empty.Values, len(full.Values))
}

func TestLocalModel_ProbabilityInRange(t *testing.T) {
	model := NewLocalModel("local-v1")
	vector := NewFeatureExtractor().Extract(analysisContext()).Vector()

	p, err := model.PredictFraud(context.Background(), vector)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Probability, 0.0)
	assert.LessOrEqual(t, p.Probability, 1.0)
	assert.Equal(t, "local-v1", p.ModelVersion)
	assert.Greater(t, p.Confidence, 0.0)

	_, err = model.PredictFraud(context.Background(), fraud.FeatureVector{Names: []string{"a"}})
	assert.Error(t, err)
}

func TestPredictor_ContributionIsRoundedProbability(t *testing.T) {
	client := stubModel{prediction: fraud.Prediction{Probability: 0.734, Confidence: 0.9, ModelVersion: "v7"}}
	p := NewPredictor(NewFeatureExtractor(), client, 50*time.Millisecond, zaptest.NewLogger(t))

	result := p.Check(context.Background(), analysisContext())
	assert.Equal(t, 73.0, result.Contribution())
	assert.Equal(t, []fraud.ReasonCode{fraud.ReasonModelScore}, result.Reasons())

	prediction, ok := PredictionFrom(result)
	require.True(t, ok)
	assert.Equal(t, "v7", prediction.ModelVersion)
}

func TestPredictor_FailOpen(t *testing.T) {
	tests := []struct {
		name   string
		client fraud.ModelClient
	}{
		{"error", stubModel{err: errors.New("boom")}},
		{"timeout", stubModel{delay: time.Second, prediction: fraud.Prediction{Probability: 0.99}}},
		{"invalid probability", stubModel{prediction: fraud.Prediction{Probability: 1.7}}},
		{"confidence above one", stubModel{prediction: fraud.Prediction{Probability: 0.5, Confidence: 1.2}}},
		{"negative confidence", stubModel{prediction: fraud.Prediction{Probability: 0.5, Confidence: -0.1}}},
		{"NaN confidence", stubModel{prediction: fraud.Prediction{Probability: 0.5, Confidence: math.NaN()}}},
		{"no client", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPredictor(NewFeatureExtractor(), tt.client, 20*time.Millisecond, zaptest.NewLogger(t))
			result := p.Check(context.Background(), analysisContext())

			assert.Zero(t, result.Contribution())
			assert.False(t, result.IsDegraded())
			prediction, ok := PredictionFrom(result)
			require.True(t, ok)
			assert.Equal(t, fraud.Prediction{ModelVersion: ErrorModelVersion}, prediction)
		})
	}
}

func TestHTTPModelClient_Predict(t *testing.T) {
	var received predictRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predict", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(predictResponse{FraudProbability: 0.42, Confidence: 0.8, ModelVersion: "xgb-3"})
	}))
	defer server.Close()

	client := NewHTTPModelClient(HTTPClientConfig{BaseURL: server.URL, Timeout: time.Second})
	vector := NewFeatureExtractor().Extract(analysisContext()).Vector()

	p, err := client.PredictFraud(context.Background(), vector)
	require.NoError(t, err)
	assert.Equal(t, 0.42, p.Probability)
	assert.Equal(t, "xgb-3", p.ModelVersion)
	assert.Equal(t, vector.Names, received.FeatureNames)
}

func TestHTTPModelClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPModelClient(HTTPClientConfig{
		BaseURL:          server.URL,
		Timeout:          time.Second,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := client.PredictFraud(context.Background(), fraud.FeatureVector{})
		require.Error(t, err)
	}

	_, err := client.PredictFraud(context.Background(), fraud.FeatureVector{})
	assert.ErrorIs(t, err, fraud.ErrModelUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "open", client.State())
}
