package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"redemption-fraud-engine/internal/domain/fraud"
)

// RedemptionModel is the database model for completed redemptions
type RedemptionModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID       `gorm:"type:uuid;index:idx_redemption_user_time;not null"`
	CardID            *uuid.UUID      `gorm:"type:uuid"`
	Amount            decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Currency          string          `gorm:"type:varchar(3);not null"`
	MerchantCategory  string          `gorm:"type:varchar(64)"`
	Country           string          `gorm:"type:varchar(2)"`
	City              string          `gorm:"type:varchar(100)"`
	Latitude          *float64
	Longitude         *float64
	DeviceFingerprint string    `gorm:"type:varchar(256)"`
	IPAddress         string    `gorm:"type:varchar(45)"`
	OccurredAt        time.Time `gorm:"index:idx_redemption_user_time;not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for redemptions
func (RedemptionModel) TableName() string {
	return "redemptions"
}

// TransactionRepository implements fraud.TransactionStore
type TransactionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(client *Client) *TransactionRepository {
	return &TransactionRepository{db: client.DB(), now: time.Now}
}

// RecordTransaction stores a redemption in the user's history. Recording the same ID twice is a no-op.
func (r *TransactionRepository) RecordTransaction(ctx context.Context, tx fraud.Transaction) error {
	model := &RedemptionModel{
		ID:                tx.ID,
		UserID:            tx.UserID,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		MerchantCategory:  tx.MerchantCategory,
		DeviceFingerprint: tx.DeviceFingerprint,
		IPAddress:         tx.IPAddress,
		OccurredAt:        tx.Timestamp.UTC(),
	}
	if tx.CardID != uuid.Nil {
		cardID := tx.CardID
		model.CardID = &cardID
	}
	if tx.Location != nil {
		model.Country = tx.Location.Country
		model.City = tx.Location.City
		model.Latitude = tx.Location.Latitude
		model.Longitude = tx.Location.Longitude
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error
}

// GetRecentTransactions retrieves a user's redemptions from the last windowDays, newest first
func (r *TransactionRepository) GetRecentTransactions(ctx context.Context, userID uuid.UUID, windowDays int) ([]fraud.Transaction, error) {
	since := r.now().UTC().AddDate(0, 0, -windowDays)

	var models []RedemptionModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Order("occurred_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	transactions := make([]fraud.Transaction, len(models))
	for i := range models {
		transactions[i] = modelToTransaction(&models[i])
	}
	return transactions, nil
}

func modelToTransaction(m *RedemptionModel) fraud.Transaction {
	tx := fraud.Transaction{
		ID:                m.ID,
		UserID:            m.UserID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		MerchantCategory:  m.MerchantCategory,
		Timestamp:         m.OccurredAt.UTC(),
		DeviceFingerprint: m.DeviceFingerprint,
		IPAddress:         m.IPAddress,
	}
	if m.CardID != nil {
		tx.CardID = *m.CardID
	}
	if m.Country != "" || m.Latitude != nil {
		tx.Location = &fraud.Location{
			Country:   m.Country,
			City:      m.City,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		}
	}
	return tx
}
