package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redemption-fraud-engine/internal/domain/fraud"
)

func TestStore_AppendIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	result := &fraud.FraudAnalysisResult{AnalysisID: uuid.New(), TransactionID: uuid.New(), Decision: fraud.DecisionApprove}

	require.NoError(t, s.Append(ctx, result))
	assert.ErrorIs(t, s.Append(ctx, result), fraud.ErrAnalysisAlreadyExists)

	got, err := s.GetByID(ctx, result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, fraud.DecisionApprove, got.Decision)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrAnalysisNotFound)
}

func TestStore_ListByTransactionNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	txID := uuid.New()
	now := time.Now().UTC()

	older := &fraud.FraudAnalysisResult{AnalysisID: uuid.New(), TransactionID: txID, Timestamp: now.Add(-time.Minute)}
	newer := &fraud.FraudAnalysisResult{AnalysisID: uuid.New(), TransactionID: txID, Timestamp: now}
	require.NoError(t, s.Append(ctx, older))
	require.NoError(t, s.Append(ctx, newer))

	list, err := s.ListByTransaction(ctx, txID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.AnalysisID, list[0].AnalysisID)
	assert.Equal(t, older.AnalysisID, list[1].AnalysisID)
}

func TestStore_RecentTransactionsWindow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	now := time.Now()

	s.AddTransaction(fraud.Transaction{ID: uuid.New(), UserID: user, Timestamp: now.Add(-time.Hour)})
	s.AddTransaction(fraud.Transaction{ID: uuid.New(), UserID: user, Timestamp: now.Add(-40 * 24 * time.Hour)})
	s.AddTransaction(fraud.Transaction{ID: uuid.New(), UserID: user, Timestamp: now.Add(-10 * time.Minute)})

	txs, err := s.GetRecentTransactions(ctx, user, 30)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Timestamp.After(txs[1].Timestamp))
}

func TestStore_RecordDeviceUpdatesProfile(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	s.PutProfile(fraud.UserProfile{UserID: user})

	require.NoError(t, s.RecordDevice(ctx, user, fraud.DeviceRecord{Fingerprint: "fp-1"}))
	require.NoError(t, s.RecordDevice(ctx, user, fraud.DeviceRecord{Fingerprint: "fp-1"}))

	p, err := s.GetUserProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1"}, p.KnownDeviceFingerprints)

	history, err := s.GetDeviceHistory(ctx, "fp-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.False(t, history[0].FirstSeen.IsZero())
}

func TestStore_UnknownLookups(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.GetUserProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrUserNotFound)

	_, err = s.GetCard(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrCardNotFound)
}

func TestStore_ListEnabledRules(t *testing.T) {
	s := NewStore()
	s.PutRule(fraud.FraudRule{ID: uuid.New(), Name: "b", Enabled: true})
	s.PutRule(fraud.FraudRule{ID: uuid.New(), Name: "a", Enabled: true})
	s.PutRule(fraud.FraudRule{ID: uuid.New(), Name: "c", Enabled: false})

	rules, err := s.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "b", rules[1].Name)
}
