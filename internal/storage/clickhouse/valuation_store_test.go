package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-basket-engine/internal/domain"
)

func TestValuationStore_InsertBulkAndGetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValuationStore(conn)

	points := []*domain.ValuationPoint{
		{TimestampMs: 3000, Constituent: domain.ConstituentGold, Value: 5100, Fraction: 0.51, Deviation: 0.01, NAV: 3562.5, TotalSupply: 10000},
		{TimestampMs: 1000, Constituent: domain.ConstituentGold, Value: 5000, Fraction: 0.5, Deviation: 0, NAV: 3562.5, TotalSupply: 10000},
		{TimestampMs: 1000, Constituent: domain.ConstituentSilver, Value: 3000, Fraction: 0.3, Deviation: 0, NAV: 3562.5, TotalSupply: 10000},
		{TimestampMs: 5000, Constituent: domain.ConstituentGold, Value: 5200, Fraction: 0.52, Deviation: 0.02, NAV: 3562.5, TotalSupply: 10000},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.GetByTimeRange(ctx, domain.ConstituentGold, 1000, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by timestamp ASC.
	assert.Equal(t, int64(1000), got[0].TimestampMs)
	assert.Equal(t, int64(3000), got[1].TimestampMs)
	assert.Equal(t, domain.ConstituentGold, got[0].Constituent)
	assert.InDelta(t, 5000.0, got[0].Value, 1e-9)
	assert.InDelta(t, 0.01, got[1].Deviation, 1e-9)
	assert.InDelta(t, 3562.5, got[0].NAV, 1e-9)
}

func TestValuationStore_InsertBulkEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValuationStore(conn)

	require.NoError(t, store.InsertBulk(ctx, nil))

	got, err := store.GetByTimeRange(ctx, domain.ConstituentSilver, 0, 10_000)
	require.NoError(t, err)
	assert.Empty(t, got)
}
