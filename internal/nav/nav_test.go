package nav

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func referencePrices() map[domain.Constituent]decimal.Decimal {
	return map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold:     dec("5800"),
		domain.ConstituentSilver:   dec("75"),
		domain.ConstituentPlatinum: dec("3200"),
	}
}

func TestCompute_ReferenceBasket(t *testing.T) {
	holdings := &domain.AggregateHoldings{
		TotalSupply: dec("10000"),
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:     dec("5000"),
			domain.ConstituentSilver:   dec("3000"),
			domain.ConstituentPlatinum: dec("2000"),
		},
	}

	got, err := Compute(holdings, referencePrices())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// (5000*5800 + 3000*75 + 2000*3200) / 10000 = 35625000 / 10000
	if !got.Equal(dec("3562.5")) {
		t.Errorf("expected 3562.5, got %s", got)
	}
}

func TestCompute_ZeroSupply(t *testing.T) {
	holdings := domain.NewZeroHoldings(time.Now())

	got, err := Compute(holdings, referencePrices())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected NAV 0 for empty basket, got %s", got)
	}
}

func TestCompute_MissingPrice(t *testing.T) {
	holdings := &domain.AggregateHoldings{
		TotalSupply: dec("1000"),
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:   dec("500"),
			domain.ConstituentSilver: dec("500"),
		},
	}
	prices := map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold: dec("5800"),
	}

	_, err := Compute(holdings, prices)
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestCompute_MissingPriceForZeroAmount(t *testing.T) {
	holdings := &domain.AggregateHoldings{
		TotalSupply: dec("1000"),
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:     dec("1000"),
			domain.ConstituentPlatinum: decimal.Zero,
		},
	}
	prices := map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold: dec("2"),
	}

	got, err := Compute(holdings, prices)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !got.Equal(dec("2")) {
		t.Errorf("expected 2, got %s", got)
	}
}

func TestCompute_RoundsHalfEven(t *testing.T) {
	holdings := &domain.AggregateHoldings{
		TotalSupply: dec("3"),
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold: dec("1"),
		},
	}
	prices := map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold: dec("100"),
	}

	got, err := Compute(holdings, prices)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !got.Equal(dec("33.33333333")) {
		t.Errorf("expected 33.33333333, got %s", got)
	}
}

func TestConstituentValues(t *testing.T) {
	holdings := &domain.AggregateHoldings{
		TotalSupply: dec("10000"),
		ConstituentTotals: map[domain.Constituent]decimal.Decimal{
			domain.ConstituentGold:     dec("5000"),
			domain.ConstituentSilver:   dec("3000"),
			domain.ConstituentPlatinum: dec("2000"),
		},
	}

	values, err := ConstituentValues(holdings, referencePrices())
	if err != nil {
		t.Fatalf("ConstituentValues: %v", err)
	}

	if !values[domain.ConstituentGold].Equal(dec("29000000")) {
		t.Errorf("gold: expected 29000000, got %s", values[domain.ConstituentGold])
	}
	if !values[domain.ConstituentSilver].Equal(dec("225000")) {
		t.Errorf("silver: expected 225000, got %s", values[domain.ConstituentSilver])
	}
	if !values[domain.ConstituentPlatinum].Equal(dec("6400000")) {
		t.Errorf("platinum: expected 6400000, got %s", values[domain.ConstituentPlatinum])
	}
}
