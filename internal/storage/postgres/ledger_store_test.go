package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestToken(id, owner, value string) *domain.BasketToken {
	v := dec(value)
	return &domain.BasketToken{
		ID:         id,
		Owner:      owner,
		TotalValue: v,
		ConstituentAmounts: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:     v.Mul(dec("0.5")),
			domain.ConstituentSilver:   v.Mul(dec("0.3")),
			domain.ConstituentPlatinum: v.Mul(dec("0.2")),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func createTestHoldings(supply string) *domain.AggregateHoldings {
	v := dec(supply)
	return &domain.AggregateHoldings{
		TotalSupply: v,
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:     v.Mul(dec("0.5")),
			domain.ConstituentSilver:   v.Mul(dec("0.3")),
			domain.ConstituentPlatinum: v.Mul(dec("0.2")),
		},
		LastRebalanceAt: time.Now().UTC(),
	}
}

func TestLedgerStore_GetHoldingsInitializes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)

	assert.True(t, h.TotalSupply.IsZero(), "expected zero supply, got %s", h.TotalSupply)
	assert.Equal(t, int64(0), h.Version)
	assert.False(t, h.LastRebalanceAt.IsZero(), "rebalance clock should start at creation")
	assert.Empty(t, h.ConstituentTotals)

	// Re-reading returns the persisted record, not a new one.
	again, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, h.LastRebalanceAt, again.LastRebalanceAt, time.Second)
}

func TestLedgerStore_MintRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	token := createTestToken("MBT-1", "alice", "1000")
	err := store.ApplyMint(ctx, token, createTestHoldings("1000"), 0)
	require.NoError(t, err)

	got, err := store.GetToken(ctx, "MBT-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.True(t, got.TotalValue.Equal(dec("1000")), "TotalValue = %s", got.TotalValue)
	assert.True(t, got.ConstituentAmounts[domain.ConstituentGold].Equal(dec("500")),
		"gold = %s", got.ConstituentAmounts[domain.ConstituentGold])
	assert.True(t, got.ConstituentAmounts[domain.ConstituentSilver].Equal(dec("300")),
		"silver = %s", got.ConstituentAmounts[domain.ConstituentSilver])
	assert.True(t, got.LastRebalancedAt.IsZero(), "unset timestamp should come back zero")

	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Version)
	assert.True(t, h.TotalSupply.Equal(dec("1000")), "TotalSupply = %s", h.TotalSupply)
	assert.True(t, h.ConstituentTotals[domain.ConstituentPlatinum].Equal(dec("200")),
		"platinum = %s", h.ConstituentTotals[domain.ConstituentPlatinum])
}

func TestLedgerStore_MintVersionConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	err := store.ApplyMint(ctx, createTestToken("MBT-1", "alice", "1000"), createTestHoldings("1000"), 0)
	require.NoError(t, err)

	// A stale writer loses and leaves no partial state behind.
	err = store.ApplyMint(ctx, createTestToken("MBT-2", "bob", "500"), createTestHoldings("1500"), 0)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	_, err = store.GetToken(ctx, "MBT-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Version)
}

func TestLedgerStore_MintDuplicateToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	err := store.ApplyMint(ctx, createTestToken("MBT-1", "alice", "1000"), createTestHoldings("1000"), 0)
	require.NoError(t, err)

	err = store.ApplyMint(ctx, createTestToken("MBT-1", "alice", "500"), createTestHoldings("1500"), 1)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// The rejected holdings write must have rolled back with the insert.
	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Version)
	assert.True(t, h.TotalSupply.Equal(dec("1000")), "TotalSupply = %s", h.TotalSupply)
}

func TestLedgerStore_RedemptionPartialAndFull(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	err := store.ApplyMint(ctx, createTestToken("MBT-1", "alice", "1000"), createTestHoldings("1000"), 0)
	require.NoError(t, err)

	// Partial: token shrinks to 600.
	err = store.ApplyRedemption(ctx, "MBT-1", createTestToken("MBT-1", "alice", "600"), createTestHoldings("600"), 1)
	require.NoError(t, err)

	got, err := store.GetToken(ctx, "MBT-1")
	require.NoError(t, err)
	assert.True(t, got.TotalValue.Equal(dec("600")), "TotalValue = %s", got.TotalValue)

	// Full: token row is deleted.
	err = store.ApplyRedemption(ctx, "MBT-1", nil, createTestHoldings("0"), 2)
	require.NoError(t, err)

	_, err = store.GetToken(ctx, "MBT-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.Version)
	assert.True(t, h.TotalSupply.IsZero(), "TotalSupply = %s", h.TotalSupply)
}

func TestLedgerStore_RedemptionMissingToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	// Prime the holdings row so the version condition passes.
	_, err := store.GetHoldings(ctx)
	require.NoError(t, err)

	err = store.ApplyRedemption(ctx, "MBT-missing", nil, createTestHoldings("0"), 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The holdings update must have rolled back with the failed delete.
	h, err := store.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.Version)
}

func TestLedgerStore_ListTokensByOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"MBT-b", "MBT-a", "MBT-c"} {
		token := createTestToken(id, "alice", "100")
		token.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.ApplyMint(ctx, token, createTestHoldings("100"), int64(i)))
	}
	require.NoError(t, store.ApplyMint(ctx, createTestToken("MBT-x", "bob", "100"), createTestHoldings("400"), 3))

	tokens, err := store.ListTokensByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "MBT-b", tokens[0].ID)
	assert.Equal(t, "MBT-a", tokens[1].ID)
	assert.Equal(t, "MBT-c", tokens[2].ID)

	none, err := store.ListTokensByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
