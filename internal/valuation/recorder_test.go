package valuation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/ids"
	"metal-basket-engine/internal/prices"
	"metal-basket-engine/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func newTestRecorder(t *testing.T) (*Recorder, *memory.Store, *memory.ValuationStore) {
	t.Helper()
	store := memory.NewStore()
	if err := store.InitPolicy(context.Background(), domain.DefaultPolicy(time.Now().UTC())); err != nil {
		t.Fatalf("init policy: %v", err)
	}
	history := memory.NewValuationStore()
	return NewRecorder(store, store, prices.NewStatic(), history), store, history
}

func seedHoldings(t *testing.T, store *memory.Store, gold, silver, platinum string) {
	t.Helper()
	ctx := context.Background()

	current, err := store.GetHoldings(ctx)
	if err != nil {
		t.Fatalf("get holdings: %v", err)
	}
	totals := map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold:     dec(gold),
		domain.ConstituentSilver:   dec(silver),
		domain.ConstituentPlatinum: dec(platinum),
	}
	now := time.Now().UTC()
	holdings := &domain.AggregateHoldings{
		TotalSupply:       domain.SumAmounts(totals),
		ConstituentTotals: totals,
		LastRebalanceAt:   now,
	}
	token := &domain.BasketToken{
		ID:                 ids.NewTokenID(),
		Owner:              "seed",
		TotalValue:         holdings.TotalSupply,
		ConstituentAmounts: domain.CloneAmounts(totals),
		CreatedAt:          now,
		LastRebalancedAt:   now,
	}
	if err := store.ApplyMint(ctx, token, holdings, current.Version); err != nil {
		t.Fatalf("seed holdings: %v", err)
	}
}

func TestRecordOnce_ReferenceSnapshot(t *testing.T) {
	ctx := context.Background()
	recorder, store, _ := newTestRecorder(t)
	seedHoldings(t, store, "5000", "3000", "2000")

	points, err := recorder.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}

	// Sorted constituent order: gold, platinum, silver.
	gold, platinum, silver := points[0], points[1], points[2]
	if gold.Constituent != domain.ConstituentGold {
		t.Fatalf("first point: got %s", gold.Constituent)
	}

	if !approx(gold.Value, 5000) {
		t.Errorf("gold value: got %v", gold.Value)
	}
	if !approx(gold.Fraction, 0.5) {
		t.Errorf("gold fraction: got %v", gold.Fraction)
	}
	if !approx(gold.Deviation, 0) {
		t.Errorf("gold deviation: got %v", gold.Deviation)
	}
	if !approx(platinum.Fraction, 0.2) {
		t.Errorf("platinum fraction: got %v", platinum.Fraction)
	}
	if !approx(silver.Value, 3000) {
		t.Errorf("silver value: got %v", silver.Value)
	}

	// NAV over the reference table: (5000*5800 + 3000*75 + 2000*3200) / 10000.
	for _, p := range points {
		if !approx(p.NAV, 3562.5) {
			t.Errorf("%s NAV: got %v", p.Constituent, p.NAV)
		}
		if !approx(p.TotalSupply, 10000) {
			t.Errorf("%s supply: got %v", p.Constituent, p.TotalSupply)
		}
		if p.TimestampMs != points[0].TimestampMs {
			t.Error("points of one snapshot must share a timestamp")
		}
	}
}

func TestRecordOnce_DeviationsRecorded(t *testing.T) {
	ctx := context.Background()
	recorder, store, _ := newTestRecorder(t)
	seedHoldings(t, store, "6000", "2500", "1500")

	points, err := recorder.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	gold, platinum, silver := points[0], points[1], points[2]
	if !approx(gold.Deviation, 0.1) {
		t.Errorf("gold deviation: got %v", gold.Deviation)
	}
	if !approx(silver.Deviation, -0.05) {
		t.Errorf("silver deviation: got %v", silver.Deviation)
	}
	if !approx(platinum.Deviation, -0.05) {
		t.Errorf("platinum deviation: got %v", platinum.Deviation)
	}
}

func TestRecordOnce_EmptyBasket(t *testing.T) {
	ctx := context.Background()
	recorder, _, history := newTestRecorder(t)

	points, err := recorder.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if points != nil {
		t.Errorf("empty basket must record nothing, got %d points", len(points))
	}

	stored, err := history.GetByTimeRange(ctx, domain.ConstituentGold, 0, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("range query: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("history not empty: %d points", len(stored))
	}
}

func TestRecordOnce_PolicyNotInitialized(t *testing.T) {
	store := memory.NewStore()
	recorder := NewRecorder(store, store, prices.NewStatic(), memory.NewValuationStore())
	seedHoldings(t, store, "5000", "3000", "2000")

	_, err := recorder.RecordOnce(context.Background())
	if !errors.Is(err, domain.ErrPolicyNotInitialized) {
		t.Fatalf("expected ErrPolicyNotInitialized, got %v", err)
	}
}

func TestHistory_RangeQuery(t *testing.T) {
	ctx := context.Background()
	recorder, store, _ := newTestRecorder(t)
	seedHoldings(t, store, "5000", "3000", "2000")

	if _, err := recorder.RecordOnce(ctx); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := recorder.RecordOnce(ctx); err != nil {
		t.Fatalf("record: %v", err)
	}

	points, err := recorder.History(ctx, domain.ConstituentGold, 0, time.Now().UTC().UnixMilli()+1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 gold points, got %d", len(points))
	}
	if points[0].TimestampMs > points[1].TimestampMs {
		t.Error("history must be ordered oldest first")
	}
	for _, p := range points {
		if p.Constituent != domain.ConstituentGold {
			t.Errorf("range query leaked %s", p.Constituent)
		}
	}
}
