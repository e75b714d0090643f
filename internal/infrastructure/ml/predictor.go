package ml

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// ErrorModelVersion marks a neutral prediction produced because the model failed
const ErrorModelVersion = "ERROR"

// PredictionDetailKey is the FactorResult detail key holding the fraud.Prediction
const PredictionDetailKey = "prediction"

// Predictor adapts a model client into the ML factor checker.
// Model failures never fail the analysis; they yield a neutral prediction.
type Predictor struct {
	featureExtractor *FeatureExtractor
	client           fraud.ModelClient
	timeout          time.Duration
	logger           *zap.Logger
}

// NewPredictor creates a new ML predictor
func NewPredictor(extractor *FeatureExtractor, client fraud.ModelClient, timeout time.Duration, logger *zap.Logger) *Predictor {
	return &Predictor{
		featureExtractor: extractor,
		client:           client,
		timeout:          timeout,
		logger:           logger.Named("ml_predictor"),
	}
}

func (p *Predictor) Factor() fraud.Factor { return fraud.FactorML }

// Check extracts features and scores them; contribution is round(probability * 100)
func (p *Predictor) Check(ctx context.Context, ac *fraud.AnalysisContext) fraud.FactorResult {
	vector := p.featureExtractor.Extract(ac).Vector()

	prediction, err := p.predict(ctx, vector)
	if err != nil {
		p.logger.Warn("model prediction failed, using neutral score",
			zap.String("transaction_id", ac.Transaction.ID.String()),
			zap.Error(err),
		)
		prediction = fraud.Prediction{ModelVersion: ErrorModelVersion}
	}

	points := math.Round(prediction.Probability * 100)
	detail := map[string]any{
		PredictionDetailKey: prediction,
		"probability":       prediction.Probability,
		"confidence":        prediction.Confidence,
		"model_version":     prediction.ModelVersion,
	}
	if err != nil {
		detail["error"] = err.Error()
	}

	return fraud.Violated(fraud.FactorML, points, modelReasons(points), detail)
}

func (p *Predictor) predict(ctx context.Context, vector fraud.FeatureVector) (fraud.Prediction, error) {
	if p.client == nil {
		return fraud.Prediction{}, fraud.ErrModelUnavailable
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	prediction, err := p.client.PredictFraud(ctx, vector)
	if err != nil {
		return fraud.Prediction{}, err
	}
	if !unitInterval(prediction.Probability) || !unitInterval(prediction.Confidence) {
		return fraud.Prediction{}, ErrInvalidPrediction
	}
	return prediction, nil
}

// unitInterval rejects NaN along with anything outside [0,1]
func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func modelReasons(points float64) []fraud.ReasonCode {
	if points <= 0 {
		return nil
	}
	return []fraud.ReasonCode{fraud.ReasonModelScore}
}

// PredictionFrom returns the prediction recorded on an ML factor result
func PredictionFrom(r fraud.FactorResult) (fraud.Prediction, bool) {
	if r.Factor != fraud.FactorML || r.Detail == nil {
		return fraud.Prediction{}, false
	}
	p, ok := r.Detail[PredictionDetailKey].(fraud.Prediction)
	return p, ok
}
