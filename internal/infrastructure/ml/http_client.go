package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"redemption-fraud-engine/internal/domain/fraud"
)

var ErrInvalidPrediction = errors.New("model returned an invalid prediction")

// HTTPClientConfig configures the remote model client
type HTTPClientConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

type predictRequest struct {
	FeatureNames []string  `json:"feature_names"`
	Values       []float64 `json:"values"`
}

type predictResponse struct {
	FraudProbability float64 `json:"fraud_probability"`
	Confidence       float64 `json:"confidence"`
	ModelVersion     string  `json:"model_version"`
}

// HTTPModelClient calls the external model service behind a circuit breaker
type HTTPModelClient struct {
	client  *resty.Client
	path    string
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPModelClient creates a client for the model service
func NewHTTPModelClient(cfg HTTPClientConfig) *HTTPModelClient {
	if cfg.Path == "" {
		cfg.Path = "/v1/predict"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ml-model",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &HTTPModelClient{
		client:  client,
		path:    cfg.Path,
		breaker: breaker,
	}
}

// PredictFraud implements fraud.ModelClient
func (c *HTTPModelClient) PredictFraud(ctx context.Context, features fraud.FeatureVector) (fraud.Prediction, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predict(ctx, features)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fraud.Prediction{}, fmt.Errorf("%w: %v", fraud.ErrModelUnavailable, err)
		}
		return fraud.Prediction{}, err
	}
	return out.(fraud.Prediction), nil
}

// State exposes the breaker state for health reporting
func (c *HTTPModelClient) State() string {
	return c.breaker.State().String()
}

func (c *HTTPModelClient) predict(ctx context.Context, features fraud.FeatureVector) (fraud.Prediction, error) {
	var body predictResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(predictRequest{FeatureNames: features.Names, Values: features.Values}).
		SetResult(&body).
		Post(c.path)
	if err != nil {
		return fraud.Prediction{}, fmt.Errorf("call model service: %w", err)
	}
	if resp.IsError() {
		return fraud.Prediction{}, fmt.Errorf("model service returned status %d", resp.StatusCode())
	}
	if body.FraudProbability < 0 || body.FraudProbability > 1 {
		return fraud.Prediction{}, fmt.Errorf("%w: probability %v", ErrInvalidPrediction, body.FraudProbability)
	}

	return fraud.Prediction{
		Probability:  body.FraudProbability,
		Confidence:   body.Confidence,
		ModelVersion: body.ModelVersion,
	}, nil
}
