package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"redemption-fraud-engine/internal/infrastructure/memory"
)

func TestDefaultRules_AreValid(t *testing.T) {
	known := make(map[string]bool)
	for _, f := range Fields() {
		known[f] = true
	}

	for _, r := range DefaultRules() {
		require.NoError(t, r.Validate(), r.Name)
		assert.True(t, known[r.Condition.Field], "unknown field %s in %s", r.Condition.Field, r.Name)
	}
}

func TestSeedDefaults_OnlyIntoEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)

	n, err := SeedDefaults(ctx, store, logger)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRules()), n)

	enabled, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, n)

	n, err = SeedDefaults(ctx, store, logger)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(DefaultRules())), count)
}

func TestDefaultRules_EvaluateAgainstContext(t *testing.T) {
	ac := testContext()
	fired := make(map[string]bool)
	for _, r := range DefaultRules() {
		ok, err := EvaluateRule(r, ac)
		if err != nil {
			continue
		}
		fired[r.Name] = ok
	}

	assert.True(t, fired["large redemption"])
	assert.True(t, fired["high risk tier"])
	assert.False(t, fired["compromised device"])
	assert.False(t, fired["overnight redemption"])
}
