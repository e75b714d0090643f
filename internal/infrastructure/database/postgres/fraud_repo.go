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

// ErrAppendOnly is returned when something tries to change a stored analysis
var ErrAppendOnly = errors.New("analysis results are append-only")

// AnalysisResultModel is the database model for analysis results
type AnalysisResultModel struct {
	AnalysisID       uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TransactionID    uuid.UUID       `gorm:"type:uuid;index;not null"`
	UserID           uuid.UUID       `gorm:"type:uuid;index;not null"`
	RiskScore        decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Decision         string          `gorm:"type:varchar(20);index;not null"`
	ScoreBreakdown   string          `gorm:"type:jsonb;not null"`
	Factors          string          `gorm:"type:jsonb;not null"`
	Prediction       string          `gorm:"type:jsonb"`
	ProcessingTimeMs int64           `gorm:"not null"`
	Degraded         bool            `gorm:"not null"`
	FailureReason    string          `gorm:"type:varchar(50)"`
	AnalyzedAt       time.Time       `gorm:"index;not null"`
	CreatedAt        time.Time       `gorm:"not null"`
}

// TableName returns the table name for analysis results
func (AnalysisResultModel) TableName() string {
	return "fraud_analysis_results"
}

// BeforeUpdate rejects updates; results are written once
func (*AnalysisResultModel) BeforeUpdate(*gorm.DB) error {
	return ErrAppendOnly
}

// BeforeDelete rejects deletes; results are written once
func (*AnalysisResultModel) BeforeDelete(*gorm.DB) error {
	return ErrAppendOnly
}

// RuleModel is the database model for fraud rules
type RuleModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name              string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Type              string    `gorm:"type:varchar(20);index;not null"`
	Field             string    `gorm:"type:varchar(100);not null"`
	Operator          string    `gorm:"type:varchar(10);not null"`
	Value             string    `gorm:"type:jsonb;not null"`
	TimeWindowSeconds *int64
	Weight            float64   `gorm:"not null"`
	Enabled           bool      `gorm:"index;not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for fraud rules
func (RuleModel) TableName() string {
	return "fraud_rules"
}

// ResultRepository implements fraud.ResultStore
type ResultRepository struct {
	db *gorm.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(client *Client) *ResultRepository {
	return &ResultRepository{db: client.DB()}
}

// Append stores an analysis result. Existing rows are never touched.
func (r *ResultRepository) Append(ctx context.Context, result *fraud.FraudAnalysisResult) error {
	breakdown, err := json.Marshal(result.RiskScore)
	if err != nil {
		return fmt.Errorf("encode score breakdown: %w", err)
	}
	factors, err := json.Marshal(result.Factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	var prediction string
	if result.Prediction != nil {
		raw, _ := json.Marshal(result.Prediction)
		prediction = string(raw)
	}

	model := &AnalysisResultModel{
		AnalysisID:       result.AnalysisID,
		TransactionID:    result.TransactionID,
		UserID:           result.UserID,
		RiskScore:        result.RiskScore.Composite,
		Decision:         string(result.Decision),
		ScoreBreakdown:   string(breakdown),
		Factors:          string(factors),
		Prediction:       prediction,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Degraded:         result.Degraded,
		FailureReason:    result.FailureReason,
		AnalyzedAt:       result.Timestamp,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fraud.ErrAnalysisAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID retrieves an analysis by ID
func (r *ResultRepository) GetByID(ctx context.Context, analysisID uuid.UUID) (*fraud.FraudAnalysisResult, error) {
	var model AnalysisResultModel
	if err := r.db.WithContext(ctx).First(&model, "analysis_id = ?", analysisID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fraud.ErrAnalysisNotFound
		}
		return nil, err
	}
	return modelToResult(&model)
}

// ListByTransaction retrieves every analysis of a transaction, newest first
func (r *ResultRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*fraud.FraudAnalysisResult, error) {
	var models []AnalysisResultModel
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("analyzed_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	results := make([]*fraud.FraudAnalysisResult, len(models))
	for i := range models {
		result, err := modelToResult(&models[i])
		if err != nil {
			return nil, err
		}
		results[i] = result
	}
	return results, nil
}

func modelToResult(m *AnalysisResultModel) (*fraud.FraudAnalysisResult, error) {
	result := &fraud.FraudAnalysisResult{
		AnalysisID:       m.AnalysisID,
		TransactionID:    m.TransactionID,
		UserID:           m.UserID,
		Decision:         fraud.Decision(m.Decision),
		ProcessingTimeMs: m.ProcessingTimeMs,
		Timestamp:        m.AnalyzedAt.UTC(),
		Degraded:         m.Degraded,
		FailureReason:    m.FailureReason,
	}
	if err := json.Unmarshal([]byte(m.ScoreBreakdown), &result.RiskScore); err != nil {
		return nil, fmt.Errorf("decode score breakdown of %s: %w", m.AnalysisID, err)
	}
	result.RiskScore.Composite = m.RiskScore
	if err := json.Unmarshal([]byte(m.Factors), &result.Factors); err != nil {
		return nil, fmt.Errorf("decode factors of %s: %w", m.AnalysisID, err)
	}
	if m.Prediction != "" {
		var p fraud.Prediction
		if err := json.Unmarshal([]byte(m.Prediction), &p); err != nil {
			return nil, fmt.Errorf("decode prediction of %s: %w", m.AnalysisID, err)
		}
		result.Prediction = &p
	}
	return result, nil
}

// RuleRepository implements fraud.RuleRepository
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(client *Client) *RuleRepository {
	return &RuleRepository{db: client.DB()}
}

// Save creates or replaces a rule
func (r *RuleRepository) Save(ctx context.Context, rule *fraud.FraudRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(rule.Condition.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", fraud.ErrRuleConfigInvalid, err)
	}

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	model := &RuleModel{
		ID:        rule.ID,
		Name:      rule.Name,
		Type:      string(rule.Type),
		Field:     rule.Condition.Field,
		Operator:  string(rule.Condition.Operator),
		Value:     string(value),
		Weight:    rule.Weight,
		Enabled:   rule.Enabled,
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	}
	if rule.Condition.TimeWindow != nil {
		seconds := int64(rule.Condition.TimeWindow.Seconds())
		model.TimeWindowSeconds = &seconds
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// ListEnabled retrieves enabled rules ordered by name
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]fraud.FraudRule, error) {
	var models []RuleModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	rules := make([]fraud.FraudRule, 0, len(models))
	for i := range models {
		rule, err := modelToRule(&models[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Count returns the number of stored rules
func (r *RuleRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&RuleModel{}).Count(&count).Error
	return count, err
}

// Disable turns a rule off without deleting it
func (r *RuleRepository) Disable(ctx context.Context, ruleID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&RuleModel{}).
		Where("id = ?", ruleID).
		Updates(map[string]interface{}{
			"enabled":    false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fraud.ErrRuleNotFound
	}
	return nil
}

func modelToRule(m *RuleModel) (fraud.FraudRule, error) {
	var value any
	if err := json.Unmarshal([]byte(m.Value), &value); err != nil {
		return fraud.FraudRule{}, fmt.Errorf("decode value of rule %s: %w", m.Name, err)
	}

	rule := fraud.FraudRule{
		ID:   m.ID,
		Type: fraud.RuleType(m.Type),
		Name: m.Name,
		Condition: fraud.RuleCondition{
			Field:    m.Field,
			Operator: fraud.Operator(m.Operator),
			Value:    value,
		},
		Weight:    m.Weight,
		Enabled:   m.Enabled,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.TimeWindowSeconds != nil {
		window := time.Duration(*m.TimeWindowSeconds) * time.Second
		rule.Condition.TimeWindow = &window
	}
	return rule, nil
}
