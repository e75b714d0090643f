package ml

import (
	"context"
	"fmt"
	"math"
	"sync"

	"redemption-fraud-engine/internal/domain/fraud"
)

// LocalModel is an in-process logistic model used when no model service is configured
type LocalModel struct {
	modelVersion string
	mu           sync.RWMutex
	weights      map[string]float64
	bias         float64
}

// NewLocalModel creates a local model with the built-in weights
func NewLocalModel(modelVersion string) *LocalModel {
	return &LocalModel{
		modelVersion: modelVersion,
		weights:      defaultModelWeights(),
		bias:         -3.0,
	}
}

// PredictFraud implements fraud.ModelClient
func (m *LocalModel) PredictFraud(ctx context.Context, features fraud.FeatureVector) (fraud.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return fraud.Prediction{}, err
	}
	if len(features.Names) != len(features.Values) {
		return fraud.Prediction{}, fmt.Errorf("feature vector shape mismatch: %d names, %d values", len(features.Names), len(features.Values))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Linear combination with sigmoid activation
	sum := m.bias
	for i, name := range features.Names {
		sum += features.Values[i] * m.weights[name]
	}

	return fraud.Prediction{
		Probability:  sigmoid(sum),
		Confidence:   m.calculateConfidence(features),
		ModelVersion: m.modelVersion,
	}, nil
}

// SetWeights replaces the model weights
func (m *LocalModel) SetWeights(weights map[string]float64, bias float64) {
	m.mu.Lock()
	m.weights = weights
	m.bias = bias
	m.mu.Unlock()
}

// calculateConfidence grows with how much user data backed the features
func (m *LocalModel) calculateConfidence(features fraud.FeatureVector) float64 {
	value := func(name string) float64 {
		for i, n := range features.Names {
			if n == name {
				return features.Values[i]
			}
		}
		return 0
	}

	confidence := 0.5 // Base confidence
	if value("tx_count_30d") > 0 {
		confidence += 0.15
	}
	if value("account_age_days") > newSubscriberDays {
		confidence += 0.1
	}
	if value("avg_transaction_amount") > 0 {
		confidence += 0.1
	}
	if value("is_known_location") == 1 || value("is_known_device") == 1 {
		confidence += 0.1
	}

	return math.Min(confidence, 0.95)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// defaultModelWeights emphasise known fraud indicators.
// Negative weights reduce risk.
func defaultModelWeights() map[string]float64 {
	return map[string]float64{
		"is_new_subscriber":     0.8,
		"risk_tier":             0.6,
		"amount_log":            0.3,
		"is_night":              0.4,
		"is_weekend":            0.1,
		"is_known_location":     -0.6,
		"is_cross_border":       0.7,
		"location_change":       0.5,
		"distance_from_last_km": 0.0005,
		"is_known_device":       -0.7,
		"device_change":         0.5,
		"has_device_anomaly":    1.5,
		"tx_count_1h":           0.15,
		"tx_count_24h":          0.03,
		"unique_locations_24h":  0.3,
		"unique_merchants_24h":  0.1,
		"amount_zscore":         0.35,
		"is_holiday_season":     0.2,
	}
}
