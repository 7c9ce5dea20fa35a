package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testToken(id, owner string, value string) *domain.BasketToken {
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

func testHoldings(supply string) *domain.AggregateHoldings {
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

func TestStore_GetHoldingsInitializesZeroRecord(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	h, err := store.GetHoldings(ctx)
	if err != nil {
		t.Fatalf("GetHoldings failed: %v", err)
	}

	if !h.TotalSupply.IsZero() {
		t.Errorf("Expected zero supply, got %s", h.TotalSupply)
	}
	if h.Version != 0 {
		t.Errorf("Expected version 0, got %d", h.Version)
	}
	if h.LastRebalanceAt.IsZero() {
		t.Error("Expected rebalance clock to start at creation")
	}
}

func TestStore_ApplyMintAndGetToken(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	token := testToken("MBT-1", "alice", "1000")
	if err := store.ApplyMint(ctx, token, testHoldings("1000"), 0); err != nil {
		t.Fatalf("ApplyMint failed: %v", err)
	}

	got, err := store.GetToken(ctx, "MBT-1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if !got.TotalValue.Equal(dec("1000")) {
		t.Errorf("TotalValue mismatch: got %s, want 1000", got.TotalValue)
	}

	h, err := store.GetHoldings(ctx)
	if err != nil {
		t.Fatalf("GetHoldings failed: %v", err)
	}
	if h.Version != 1 {
		t.Errorf("Expected version 1 after mint, got %d", h.Version)
	}
	if !h.TotalSupply.Equal(dec("1000")) {
		t.Errorf("Expected supply 1000, got %s", h.TotalSupply)
	}
}

func TestStore_ApplyMintVersionConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("First mint failed: %v", err)
	}

	// A second writer holding a stale version must be rejected.
	err := store.ApplyMint(ctx, testToken("MBT-2", "bob", "500"), testHoldings("1500"), 0)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// The conflicting token must not have been inserted.
	if _, err := store.GetToken(ctx, "MBT-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for rejected token, got %v", err)
	}
}

func TestStore_ApplyMintDuplicateToken(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("First mint failed: %v", err)
	}

	err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("2000"), 1)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestStore_ApplyRedemptionPartial(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	remaining := testToken("MBT-1", "alice", "600")
	if err := store.ApplyRedemption(ctx, "MBT-1", remaining, testHoldings("600"), 1); err != nil {
		t.Fatalf("ApplyRedemption failed: %v", err)
	}

	got, err := store.GetToken(ctx, "MBT-1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if !got.TotalValue.Equal(dec("600")) {
		t.Errorf("Expected remaining value 600, got %s", got.TotalValue)
	}

	h, _ := store.GetHoldings(ctx)
	if h.Version != 2 {
		t.Errorf("Expected version 2, got %d", h.Version)
	}
}

func TestStore_ApplyRedemptionFull(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if err := store.ApplyRedemption(ctx, "MBT-1", nil, testHoldings("0"), 1); err != nil {
		t.Fatalf("ApplyRedemption failed: %v", err)
	}

	if _, err := store.GetToken(ctx, "MBT-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after full redemption, got %v", err)
	}
}

func TestStore_ApplyRedemptionMissingToken(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.ApplyRedemption(ctx, "MBT-missing", nil, testHoldings("0"), 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_ApplyRedemptionVersionConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	err := store.ApplyRedemption(ctx, "MBT-1", nil, testHoldings("0"), 0)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// Token survives the rejected write.
	if _, err := store.GetToken(ctx, "MBT-1"); err != nil {
		t.Errorf("Expected token to survive, got %v", err)
	}
}

func TestStore_ListTokensByOwner(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"MBT-b", "MBT-a", "MBT-c"} {
		tok := testToken(id, "alice", "100")
		tok.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.ApplyMint(ctx, tok, testHoldings("100"), int64(i)); err != nil {
			t.Fatalf("Mint %s failed: %v", id, err)
		}
	}
	other := testToken("MBT-x", "bob", "100")
	if err := store.ApplyMint(ctx, other, testHoldings("400"), 3); err != nil {
		t.Fatalf("Mint MBT-x failed: %v", err)
	}

	tokens, err := store.ListTokensByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTokensByOwner failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("Expected 3 tokens, got %d", len(tokens))
	}
	// Ordered by creation time, not ID.
	if tokens[0].ID != "MBT-b" || tokens[2].ID != "MBT-c" {
		t.Errorf("Wrong order: %s, %s, %s", tokens[0].ID, tokens[1].ID, tokens[2].ID)
	}
}

func TestStore_TokenCopyOnRead(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.ApplyMint(ctx, testToken("MBT-1", "alice", "1000"), testHoldings("1000"), 0); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	got, _ := store.GetToken(ctx, "MBT-1")
	got.ConstituentAmounts[domain.ConstituentGold] = dec("999999")

	again, _ := store.GetToken(ctx, "MBT-1")
	if !again.ConstituentAmounts[domain.ConstituentGold].Equal(dec("500")) {
		t.Errorf("Stored token mutated through returned copy: got %s", again.ConstituentAmounts[domain.ConstituentGold])
	}
}
