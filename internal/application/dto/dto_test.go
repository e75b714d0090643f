package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redemption-fraud-engine/internal/domain/fraud"
)

func validRequest() AnalyzeTransactionRequest {
	return AnalyzeTransactionRequest{
		TransactionID:    uuid.New(),
		UserID:           uuid.New(),
		Amount:           decimal.NewFromInt(25),
		Currency:         "usd",
		MerchantCategory: "Grocery",
		Location:         &LocationRequest{Country: "us", City: "Austin"},
		IPAddress:        "81.2.69.142",
	}
}

func TestAnalyzeTransactionRequest_Validation(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		mutate func(r *AnalyzeTransactionRequest)
		field  string
	}{
		{"valid", func(*AnalyzeTransactionRequest) {}, ""},
		{"missing user", func(r *AnalyzeTransactionRequest) { r.UserID = uuid.Nil }, "user_id"},
		{"zero amount", func(r *AnalyzeTransactionRequest) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *AnalyzeTransactionRequest) { r.Amount = decimal.NewFromInt(-3) }, "amount"},
		{"bad currency", func(r *AnalyzeTransactionRequest) { r.Currency = "dollars" }, "currency"},
		{"bad ip", func(r *AnalyzeTransactionRequest) { r.IPAddress = "not-an-ip" }, "ip_address"},
		{"bad latitude", func(r *AnalyzeTransactionRequest) {
			lat := 123.0
			r.Location.Latitude = &lat
		}, "latitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := v.Struct(req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestBatchAnalyzeRequest_Limits(t *testing.T) {
	v := NewValidator()

	assert.Error(t, v.Struct(BatchAnalyzeRequest{}))

	batch := BatchAnalyzeRequest{Transactions: make([]AnalyzeTransactionRequest, 101)}
	for i := range batch.Transactions {
		batch.Transactions[i] = validRequest()
	}
	assert.Error(t, v.Struct(batch))

	batch.Transactions = batch.Transactions[:100]
	assert.NoError(t, v.Struct(batch))
}

func TestAnalyzeTransactionRequest_ToTransaction(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	req := validRequest()

	tx := req.ToTransaction(now)
	assert.Equal(t, req.TransactionID, tx.ID)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, "grocery", tx.MerchantCategory)
	assert.Equal(t, "US:Austin", tx.Location.Region())
	assert.Equal(t, time.UTC, tx.Timestamp.Location())
	assert.True(t, now.Equal(tx.Timestamp))

	at := now.Add(-time.Hour)
	req.Timestamp = &at
	assert.True(t, at.Equal(req.ToTransaction(now).Timestamp))
}

func TestNewAnalysisResponse_DeduplicatesReasons(t *testing.T) {
	result := &fraud.FraudAnalysisResult{
		AnalysisID: uuid.New(),
		Decision:   fraud.DecisionDecline,
		Factors: []fraud.FactorResult{
			fraud.Violated(fraud.FactorRules, 10, []fraud.ReasonCode{fraud.ReasonRuleTriggered}, nil),
			fraud.Violated(fraud.FactorDevice, 20, []fraud.ReasonCode{fraud.ReasonNewDevice, fraud.ReasonRuleTriggered}, nil),
		},
		RiskScore: fraud.RiskScore{Composite: decimal.NewFromInt(85)},
	}

	resp := NewAnalysisResponse(result)
	assert.Equal(t, []string{"RULE_TRIGGERED", "NEW_DEVICE"}, resp.Reasons)
	assert.True(t, resp.Halts)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"factor_breakdown"`)
	assert.Contains(t, string(body), `"risk_score":"85"`)
}
