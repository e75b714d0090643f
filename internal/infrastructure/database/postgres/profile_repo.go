package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"redemption-fraud-engine/internal/domain/fraud"
)

// UserProfileModel is the database model for user profiles
type UserProfileModel struct {
	UserID                    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AverageTransactionAmount  decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	TypicalLocations          string          `gorm:"type:jsonb"`
	TypicalMerchantCategories string          `gorm:"type:jsonb"`
	TypicalHours              string          `gorm:"type:jsonb"`
	KnownDeviceFingerprints   string          `gorm:"type:jsonb"`
	RiskTier                  string          `gorm:"type:varchar(10);not null"`
	CreatedAt                 time.Time       `gorm:"not null"`
	UpdatedAt                 time.Time       `gorm:"not null"`
}

// TableName returns the table name for user profiles
func (UserProfileModel) TableName() string {
	return "user_profiles"
}

// CardModel is the database model for card metadata
type CardModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;index;not null"`
	IssuingCountry string    `gorm:"type:varchar(2)"`
	Status         string    `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for cards
func (CardModel) TableName() string {
	return "cards"
}

// DeviceModel is one sighting of a device fingerprint for a user
type DeviceModel struct {
	ID          uint      `gorm:"primaryKey"`
	Fingerprint string    `gorm:"type:varchar(256);uniqueIndex:idx_device_user;not null"`
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_device_user;not null"`
	TrustFlags  string    `gorm:"type:jsonb"`
	FirstSeen   time.Time `gorm:"not null"`
}

// TableName returns the table name for devices
func (DeviceModel) TableName() string {
	return "devices"
}

// ProfileRepository implements fraud.ProfileStore and fraud.CardStore
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(client *Client) *ProfileRepository {
	return &ProfileRepository{db: client.DB()}
}

// GetUserProfile retrieves a profile by user ID
func (r *ProfileRepository) GetUserProfile(ctx context.Context, userID uuid.UUID) (*fraud.UserProfile, error) {
	var model UserProfileModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fraud.ErrUserNotFound
		}
		return nil, err
	}
	return modelToProfile(&model)
}

// SaveProfile creates or replaces a profile
func (r *ProfileRepository) SaveProfile(ctx context.Context, p *fraud.UserProfile) error {
	locations, _ := json.Marshal(p.TypicalLocations)
	categories, _ := json.Marshal(p.TypicalMerchantCategories)
	hours, _ := json.Marshal(p.TypicalHours)
	devices, _ := json.Marshal(p.KnownDeviceFingerprints)

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	model := &UserProfileModel{
		UserID:                    p.UserID,
		AverageTransactionAmount:  p.AverageTransactionAmount,
		TypicalLocations:          string(locations),
		TypicalMerchantCategories: string(categories),
		TypicalHours:              string(hours),
		KnownDeviceFingerprints:   string(devices),
		RiskTier:                  string(p.RiskTier),
		CreatedAt:                 createdAt,
		UpdatedAt:                 time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// GetCard retrieves card metadata by ID
func (r *ProfileRepository) GetCard(ctx context.Context, cardID uuid.UUID) (*fraud.CardInfo, error) {
	var model CardModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fraud.ErrCardNotFound
		}
		return nil, err
	}
	return &fraud.CardInfo{
		CardID:         model.ID,
		UserID:         model.UserID,
		IssuingCountry: model.IssuingCountry,
		Status:         model.Status,
		CreatedAt:      model.CreatedAt,
	}, nil
}

// SaveCard creates or replaces card metadata
func (r *ProfileRepository) SaveCard(ctx context.Context, c *fraud.CardInfo) error {
	model := &CardModel{
		ID:             c.CardID,
		UserID:         c.UserID,
		IssuingCountry: c.IssuingCountry,
		Status:         c.Status,
		CreatedAt:      c.CreatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// DeviceRepository implements fraud.DeviceStore and fraud.DeviceRecorder
type DeviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(client *Client) *DeviceRepository {
	return &DeviceRepository{db: client.DB()}
}

// GetDeviceHistory returns every sighting of a fingerprint, oldest first
func (r *DeviceRepository) GetDeviceHistory(ctx context.Context, fingerprint string) ([]fraud.DeviceRecord, error) {
	var models []DeviceModel
	if err := r.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("first_seen ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]fraud.DeviceRecord, len(models))
	for i, m := range models {
		var flags []string
		if m.TrustFlags != "" {
			if err := json.Unmarshal([]byte(m.TrustFlags), &flags); err != nil {
				return nil, fmt.Errorf("decode trust flags of device %d: %w", m.ID, err)
			}
		}
		records[i] = fraud.DeviceRecord{Fingerprint: m.Fingerprint, FirstSeen: m.FirstSeen, TrustFlags: flags}
	}
	return records, nil
}

// RecordDevice stores the first sighting of a fingerprint for a user; later sightings are ignored
func (r *DeviceRepository) RecordDevice(ctx context.Context, userID uuid.UUID, record fraud.DeviceRecord) error {
	flags, _ := json.Marshal(record.TrustFlags)
	firstSeen := record.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	model := &DeviceModel{
		Fingerprint: record.Fingerprint,
		UserID:      userID,
		TrustFlags:  string(flags),
		FirstSeen:   firstSeen,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error
}

func modelToProfile(m *UserProfileModel) (*fraud.UserProfile, error) {
	p := &fraud.UserProfile{
		UserID:                   m.UserID,
		AverageTransactionAmount: m.AverageTransactionAmount,
		RiskTier:                 fraud.RiskTier(m.RiskTier),
		CreatedAt:                m.CreatedAt,
	}

	columns := []struct {
		raw  string
		dest any
	}{
		{m.TypicalLocations, &p.TypicalLocations},
		{m.TypicalMerchantCategories, &p.TypicalMerchantCategories},
		{m.TypicalHours, &p.TypicalHours},
		{m.KnownDeviceFingerprints, &p.KnownDeviceFingerprints},
	}
	for _, c := range columns {
		if c.raw == "" || c.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dest); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", m.UserID, err)
		}
	}
	return p, nil
}
