package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

func TestPolicyStore_InitAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPolicyStore(pool)

	_, err := store.GetPolicy(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	p := domain.DefaultPolicy(time.Now().UTC())
	require.NoError(t, store.InitPolicy(ctx, p))

	got, err := store.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, got.RebalanceIntervalDays)
	assert.True(t, got.MaxDeviationFraction.Equal(dec("0.05")),
		"max deviation = %s", got.MaxDeviationFraction)
	assert.True(t, got.TargetFractions[domain.ConstituentGold].Equal(dec("0.5")),
		"gold fraction = %s", got.TargetFractions[domain.ConstituentGold])
	assert.True(t, got.MinTradeAmount.Equal(dec("1000")),
		"min trade = %s", got.MinTradeAmount)
	assert.True(t, got.ApprovalThreshold.Equal(dec("100000")),
		"approval threshold = %s", got.ApprovalThreshold)
	require.NoError(t, got.Validate())

	err = store.InitPolicy(ctx, p)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
