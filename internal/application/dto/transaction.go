package dto

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"redemption-fraud-engine/internal/domain/fraud"
)

// LocationRequest is the optional location reported by the client
type LocationRequest struct {
	Country   string   `json:"country" validate:"required,len=2"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

// AnalyzeTransactionRequest represents a redemption attempt submitted for analysis
type AnalyzeTransactionRequest struct {
	TransactionID     uuid.UUID        `json:"transaction_id" validate:"required"`
	UserID            uuid.UUID        `json:"user_id" validate:"required"`
	CardID            uuid.UUID        `json:"card_id"`
	Amount            decimal.Decimal  `json:"amount" validate:"gt=0"`
	Currency          string           `json:"currency" validate:"required,len=3"`
	MerchantCategory  string           `json:"merchant_category" validate:"required,max=64"`
	Location          *LocationRequest `json:"location,omitempty" validate:"omitempty"`
	Timestamp         *time.Time       `json:"timestamp,omitempty"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty" validate:"max=256"`
	IPAddress         string           `json:"ip_address,omitempty" validate:"omitempty,ip"`
}

// ToTransaction converts the request into the domain value.
// A missing timestamp means the redemption happens now.
func (r *AnalyzeTransactionRequest) ToTransaction(now time.Time) fraud.Transaction {
	tx := fraud.Transaction{
		ID:                r.TransactionID,
		UserID:            r.UserID,
		CardID:            r.CardID,
		Amount:            r.Amount,
		Currency:          strings.ToUpper(r.Currency),
		MerchantCategory:  strings.ToLower(r.MerchantCategory),
		Timestamp:         now.UTC(),
		DeviceFingerprint: r.DeviceFingerprint,
		IPAddress:         r.IPAddress,
	}
	if r.Timestamp != nil {
		tx.Timestamp = r.Timestamp.UTC()
	}
	if r.Location != nil {
		tx.Location = &fraud.Location{
			Country:   strings.ToUpper(r.Location.Country),
			City:      r.Location.City,
			Latitude:  r.Location.Latitude,
			Longitude: r.Location.Longitude,
		}
	}
	return tx
}

// BatchAnalyzeRequest submits up to 100 redemptions at once
type BatchAnalyzeRequest struct {
	Transactions []AnalyzeTransactionRequest `json:"transactions" validate:"required,min=1,max=100,dive"`
}

// NewValidator returns a validator that understands decimal amounts and uuids
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
			return id.String()
		}
		return ""
	}, uuid.UUID{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
