package fraud

import (
	"context"

	"github.com/google/uuid"
)

// ProfileStore provides stored user profiles
type ProfileStore interface {
	// GetUserProfile returns ErrUserNotFound when the user is unknown
	GetUserProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error)
}

// CardStore provides card metadata
type CardStore interface {
	GetCard(ctx context.Context, cardID uuid.UUID) (*CardInfo, error)
}

// TransactionStore provides a user's recent transaction history
type TransactionStore interface {
	// GetRecentTransactions returns transactions from the last windowDays, newest first
	GetRecentTransactions(ctx context.Context, userID uuid.UUID, windowDays int) ([]Transaction, error)
}

// TransactionRecorder adds an analyzed redemption to the user's history
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, tx Transaction) error
}

// DeviceStore provides device history for a fingerprint
type DeviceStore interface {
	GetDeviceHistory(ctx context.Context, fingerprint string) ([]DeviceRecord, error)
}

// DeviceRecorder remembers devices that passed analysis
type DeviceRecorder interface {
	RecordDevice(ctx context.Context, userID uuid.UUID, record DeviceRecord) error
}

// RuleRepository is the durable source of fraud rules
type RuleRepository interface {
	ListEnabled(ctx context.Context) ([]FraudRule, error)
}

// RuleRegistry hands out the currently enabled rules, possibly from a cache
type RuleRegistry interface {
	EnabledRules(ctx context.Context) ([]FraudRule, error)
}

// ResultStore is the append-only audit log of analyses
type ResultStore interface {
	// Append stores a new result. Existing results are never updated.
	Append(ctx context.Context, result *FraudAnalysisResult) error

	GetByID(ctx context.Context, analysisID uuid.UUID) (*FraudAnalysisResult, error)

	// ListByTransaction returns every analysis of a transaction, newest first
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*FraudAnalysisResult, error)
}

// AlertPublisher forwards noteworthy results to the alerting pipeline
type AlertPublisher interface {
	Publish(ctx context.Context, result *FraudAnalysisResult) error
}

// FeatureVector is the fixed-shape model input. Names and Values have the same length and order.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// ModelClient scores a feature vector with the fraud model
type ModelClient interface {
	PredictFraud(ctx context.Context, features FeatureVector) (Prediction, error)
}
