// Package valuation snapshots the basket's NAV and allocation into the
// valuation history store for reporting.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/nav"
	"metal-basket-engine/internal/observability"
	"metal-basket-engine/internal/prices"
	"metal-basket-engine/internal/storage"
)

// HoldingsSource is the ledger's holdings read contract.
type HoldingsSource interface {
	GetHoldings(ctx context.Context) (*domain.AggregateHoldings, error)
}

// Recorder computes snapshot rows from live holdings, prices and the
// composition policy, and appends them to the valuation history.
type Recorder struct {
	holdings HoldingsSource
	policies storage.PolicyStore
	prices   prices.Source
	history  storage.ValuationStore
}

// NewRecorder creates a recorder.
func NewRecorder(holdings HoldingsSource, policies storage.PolicyStore, priceSource prices.Source, history storage.ValuationStore) *Recorder {
	return &Recorder{
		holdings: holdings,
		policies: policies,
		prices:   priceSource,
		history:  history,
	}
}

// RecordOnce takes one snapshot: per constituent its total, realized
// fraction and signed deviation from target, plus the basket NAV and supply
// shared across the rows. All rows carry the same timestamp. An empty
// basket records nothing and returns nil points.
func (r *Recorder) RecordOnce(ctx context.Context) ([]*domain.ValuationPoint, error) {
	holdings, err := r.holdings.GetHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	if holdings.TotalSupply.IsZero() {
		return nil, nil
	}

	policy, err := r.policies.GetPolicy(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrPolicyNotInitialized
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	priceTable, err := r.prices.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}

	basketNAV, err := nav.Compute(holdings, priceTable)
	if err != nil {
		return nil, err
	}
	deviations, _ := policy.Deviations(holdings)
	sum := holdings.ConstituentSum()

	ts := time.Now().UTC().UnixMilli()
	navValue := basketNAV.InexactFloat64()
	supply := holdings.TotalSupply.InexactFloat64()

	points := make([]*domain.ValuationPoint, 0, len(policy.TargetFractions))
	for _, c := range policy.Constituents() {
		total := holdings.ConstituentTotals[c]
		fraction := decimalFraction(total, sum)
		points = append(points, &domain.ValuationPoint{
			TimestampMs: ts,
			Constituent: c,
			Value:       total.InexactFloat64(),
			Fraction:    fraction,
			Deviation:   deviations[c].InexactFloat64(),
			NAV:         navValue,
			TotalSupply: supply,
		})
	}

	if err := r.history.InsertBulk(ctx, points); err != nil {
		return nil, fmt.Errorf("insert valuation points: %w", err)
	}
	observability.RecordValuationSnapshot(len(points), navValue)
	return points, nil
}

// History returns a constituent's recorded points within [start, end]
// unix milliseconds, oldest first.
func (r *Recorder) History(ctx context.Context, c domain.Constituent, start, end int64) ([]*domain.ValuationPoint, error) {
	return r.history.GetByTimeRange(ctx, c, start, end)
}

func decimalFraction(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).InexactFloat64()
}
