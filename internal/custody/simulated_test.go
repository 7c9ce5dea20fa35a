package custody

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSimulated_OpeningBalance(t *testing.T) {
	sim := NewSimulated()

	balance, err := sim.Balance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected opening balance 1000000, got %s", balance)
	}
}

func TestSimulated_DebitCredit(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	if err := sim.Debit(ctx, "user-1", dec("400000")); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := sim.Credit(ctx, "user-1", dec("150")); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	balance, err := sim.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !balance.Equal(dec("600150")) {
		t.Errorf("expected 600150, got %s", balance)
	}

	// Other accounts are unaffected
	other, err := sim.Balance(ctx, "user-2")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !other.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected untouched opening balance, got %s", other)
	}
}

func TestSimulated_DebitInsufficientFunds(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	sim.SetBalance("user-1", dec("100"))

	err := sim.Debit(ctx, "user-1", dec("100.00000001"))
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}

	// Balance must be unchanged after a failed debit
	balance, _ := sim.Balance(ctx, "user-1")
	if !balance.Equal(dec("100")) {
		t.Errorf("expected 100, got %s", balance)
	}
}

func TestSimulated_RejectsNonPositiveAmounts(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	if err := sim.Debit(ctx, "user-1", decimal.Zero); err == nil {
		t.Error("expected error for zero debit")
	}
	if err := sim.Credit(ctx, "user-1", dec("-5")); err == nil {
		t.Error("expected error for negative credit")
	}
}

func TestSimulated_AllocateRelease(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	err := sim.Allocate(ctx, map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold:     dec("500"),
		domain.ConstituentSilver:   dec("300"),
		domain.ConstituentPlatinum: dec("200"),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err = sim.Release(ctx, map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold:     dec("200"),
		domain.ConstituentSilver:   dec("120"),
		domain.ConstituentPlatinum: dec("80"),
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	allocated := sim.AllocatedAmounts()
	if !allocated[domain.ConstituentGold].Equal(dec("300")) {
		t.Errorf("gold: expected 300, got %s", allocated[domain.ConstituentGold])
	}
	if !allocated[domain.ConstituentSilver].Equal(dec("180")) {
		t.Errorf("silver: expected 180, got %s", allocated[domain.ConstituentSilver])
	}
	if !allocated[domain.ConstituentPlatinum].Equal(dec("120")) {
		t.Errorf("platinum: expected 120, got %s", allocated[domain.ConstituentPlatinum])
	}
}

func TestSimulated_ExecuteTrade(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	op := &domain.RebalanceOperation{
		ID:          "OP-1",
		RequestID:   "REBAL-1",
		Constituent: domain.ConstituentSilver,
		Direction:   domain.DirectionBuy,
		Amount:      dec("500"),
		PriceAtPlan: dec("75"),
	}
	if err := sim.ExecuteTrade(ctx, op); err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}

	trades := sim.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].ID != "OP-1" {
		t.Errorf("expected OP-1, got %s", trades[0].ID)
	}
}

func TestSimulated_FailTrade(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	sim.FailTrade(domain.ConstituentGold)

	goldOp := &domain.RebalanceOperation{
		ID:          "OP-gold",
		Constituent: domain.ConstituentGold,
		Direction:   domain.DirectionSell,
		Amount:      dec("1000"),
	}
	if err := sim.ExecuteTrade(ctx, goldOp); err == nil {
		t.Fatal("expected injected failure for gold")
	}

	silverOp := &domain.RebalanceOperation{
		ID:          "OP-silver",
		Constituent: domain.ConstituentSilver,
		Direction:   domain.DirectionBuy,
		Amount:      dec("500"),
	}
	if err := sim.ExecuteTrade(ctx, silverOp); err != nil {
		t.Fatalf("ExecuteTrade silver: %v", err)
	}

	trades := sim.Trades()
	if len(trades) != 1 || trades[0].ID != "OP-silver" {
		t.Errorf("expected only the silver trade recorded, got %d", len(trades))
	}
}
