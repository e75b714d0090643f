package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"redemption-fraud-engine/internal/domain/fraud"
	"redemption-fraud-engine/internal/infrastructure/memory"
)

// integrationClient connects to FRAUD_TEST_REDIS_ADDR and skips when it is not set
func integrationClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("FRAUD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FRAUD_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb)
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-0a1b2c3d4e5f")

	assert.Equal(t, "velocity:user:6f1c2d3e-4a5b-4c6d-8e7f-0a1b2c3d4e5f", historyKey(id))
	assert.Equal(t, "velocity:user:6f1c2d3e-4a5b-4c6d-8e7f-0a1b2c3d4e5f:__loaded__", loadedKey(id))
	assert.Equal(t, "profile:user:6f1c2d3e-4a5b-4c6d-8e7f-0a1b2c3d4e5f", profileKey(id))
	assert.Equal(t, "devices:fp:abc", deviceKey("abc"))
}

func TestMemberEncoding(t *testing.T) {
	tx := fraud.Transaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    decimal.RequireFromString("12.50"),
		Currency:  "USD",
		Location:  &fraud.Location{Country: "US", City: "Austin"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	member, err := encodeMember(tx)
	require.NoError(t, err)

	decoded, err := decodeMember(member)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, decoded.ID)
	assert.True(t, tx.Amount.Equal(decoded.Amount))
	assert.Equal(t, "US:Austin", decoded.Location.Region())

	_, err = decodeMember("{}")
	assert.Error(t, err)
	_, err = decodeMember("not json")
	assert.Error(t, err)
}

func TestVelocityCache_ReadThroughAndWriteThrough(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	user := uuid.New()
	now := time.Now().UTC()

	older := fraud.Transaction{ID: uuid.New(), UserID: user, Amount: decimal.NewFromInt(5), Currency: "USD", Timestamp: now.Add(-2 * time.Hour)}
	store.AddTransaction(older)

	cache := NewVelocityCache(client, store, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cache.Invalidate(ctx, user) })

	txs, err := cache.GetRecentTransactions(ctx, user, 7)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	newer := fraud.Transaction{ID: uuid.New(), UserID: user, Amount: decimal.NewFromInt(9), Currency: "USD", Timestamp: now.Add(-time.Minute)}
	require.NoError(t, cache.RecordTransaction(ctx, newer))

	txs, err = cache.GetRecentTransactions(ctx, user, 7)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, newer.ID, txs[0].ID)

	durable, err := store.GetRecentTransactions(ctx, user, 7)
	require.NoError(t, err)
	assert.Len(t, durable, 2)
}

func TestProfileCache_ReadThrough(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	profile := fraud.UserProfile{UserID: uuid.New(), AverageTransactionAmount: decimal.NewFromInt(40), RiskTier: fraud.RiskTierLow}
	store.PutProfile(profile)

	cache := NewProfileCache(client, store, time.Minute, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cache.Invalidate(ctx, profile.UserID) })

	got, err := cache.GetUserProfile(ctx, profile.UserID)
	require.NoError(t, err)
	assert.True(t, got.AverageTransactionAmount.Equal(decimal.NewFromInt(40)))

	exists, err := client.Redis().Exists(ctx, profileKey(profile.UserID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	_, err = cache.GetUserProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, fraud.ErrUserNotFound)
}

func TestDeviceCache_RecordInvalidates(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	user := uuid.New()
	fp := "fp-" + uuid.NewString()

	cache := NewDeviceCache(client, store, time.Minute, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Redis().Del(ctx, deviceKey(fp), userDevicesKey(user)).Err() })

	history, err := cache.GetDeviceHistory(ctx, fp)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, cache.RecordDevice(ctx, user, fraud.DeviceRecord{Fingerprint: fp, FirstSeen: time.Now().UTC()}))

	history, err = cache.GetDeviceHistory(ctx, fp)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	count, err := cache.KnownDeviceCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
