package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"redemption-fraud-engine/internal/domain/fraud"
)

type stubResolver struct {
	location *fraud.Location
	err      error
	calls    int
}

func (r *stubResolver) Resolve(context.Context, string) (*fraud.Location, error) {
	r.calls++
	return r.location, r.err
}

type slowHistory struct {
	delay time.Duration
}

func (s slowHistory) GetRecentTransactions(ctx context.Context, _ uuid.UUID, _ int) ([]fraud.Transaction, error) {
	select {
	case <-time.After(s.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestContextBuilder_HistoryExcludesCurrentAndIsNewestFirst(t *testing.T) {
	f := newFixture()
	tx := f.transaction()

	older := fraud.Transaction{ID: uuid.New(), UserID: f.user, Timestamp: tx.Timestamp.Add(-2 * time.Hour)}
	newer := fraud.Transaction{ID: uuid.New(), UserID: f.user, Timestamp: tx.Timestamp.Add(-time.Hour)}
	f.store.AddTransaction(older)
	f.store.AddTransaction(tx)
	f.store.AddTransaction(newer)

	builder := NewContextBuilder(f.store, f.store, f.store, f.store, nil, ContextBuilderConfig{}, zaptest.NewLogger(t))
	ac, err := builder.Build(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, ac.RecentTransactions, 2)
	assert.Equal(t, newer.ID, ac.RecentTransactions[0].ID)
	assert.Equal(t, older.ID, ac.RecentTransactions[1].ID)
	assert.NotNil(t, ac.Profile)
	assert.NotNil(t, ac.Card)
	assert.NotNil(t, ac.DeviceHistory)
	assert.Empty(t, ac.Degraded)
}

func TestContextBuilder_InvalidTransactionIsFatal(t *testing.T) {
	f := newFixture()
	builder := NewContextBuilder(f.store, f.store, f.store, f.store, nil, ContextBuilderConfig{}, zaptest.NewLogger(t))

	tx := f.transaction()
	tx.Timestamp = time.Time{}

	_, err := builder.Build(context.Background(), tx)
	var fatal *fraud.FatalContextError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, fraud.ErrInvalidTransaction)
}

func TestContextBuilder_ResolvesLocationFromIP(t *testing.T) {
	f := newFixture()
	resolver := &stubResolver{location: &fraud.Location{Country: "US", City: "Austin"}}
	builder := NewContextBuilder(f.store, f.store, f.store, f.store, resolver, ContextBuilderConfig{}, zaptest.NewLogger(t))

	tx := f.transaction()
	tx.Location = nil
	tx.IPAddress = "81.2.69.142"

	ac, err := builder.Build(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, "US:Austin", ac.EffectiveLocation().Region())

	// A transaction that carries its own location is not resolved
	_, err = builder.Build(context.Background(), f.transaction())
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
}

func TestContextBuilder_FailedFetchesDegrade(t *testing.T) {
	f := newFixture()
	resolver := &stubResolver{err: errors.New("geoip database missing")}
	builder := NewContextBuilder(f.store, failingCards{}, slowHistory{delay: time.Second}, f.store, resolver,
		ContextBuilderConfig{DependencyTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	tx := f.transaction()
	tx.Location = nil
	tx.IPAddress = "10.0.0.1"

	ac, err := builder.Build(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, []string{FetchCard, FetchHistory, FetchLocation}, ac.Degraded)
	assert.Nil(t, ac.Card)
	assert.NotNil(t, ac.RecentTransactions)
	assert.Empty(t, ac.RecentTransactions)
	assert.NotNil(t, ac.Profile)
}
