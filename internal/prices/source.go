// Package prices provides constituent price sources.
//
// Source is the oracle interface consumed by the NAV calculator, the
// rebalance planner, and the valuation recorder. Static serves the fixed
// reference table; Feed streams ticks over a websocket and keeps a
// last-known-value cache seeded from that table, so every constituent
// always has a price once a source is constructed.
package prices

import (
	"context"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

// Source supplies current per-unit constituent prices in INR.
type Source interface {
	// Prices returns a snapshot of current prices. The returned map is
	// owned by the caller. Consumers treat a missing constituent entry as
	// price-unavailable.
	Prices(ctx context.Context) (map[domain.Constituent]decimal.Decimal, error)
}

// ReferenceTable returns the fixed reference prices (INR per unit).
func ReferenceTable() map[domain.Constituent]decimal.Decimal {
	return map[domain.Constituent]decimal.Decimal{
		domain.ConstituentGold:     decimal.NewFromInt(5800),
		domain.ConstituentSilver:   decimal.NewFromInt(75),
		domain.ConstituentPlatinum: decimal.NewFromInt(3200),
	}
}

// Static serves a fixed price table.
type Static struct {
	table map[domain.Constituent]decimal.Decimal
}

// NewStatic returns a Static source backed by the reference table.
func NewStatic() *Static {
	return &Static{table: ReferenceTable()}
}

// NewStaticWithTable returns a Static source serving the given table.
// The table is copied.
func NewStaticWithTable(table map[domain.Constituent]decimal.Decimal) *Static {
	return &Static{table: domain.CloneAmounts(table)}
}

// Prices returns a copy of the table.
func (s *Static) Prices(_ context.Context) (map[domain.Constituent]decimal.Decimal, error) {
	return domain.CloneAmounts(s.table), nil
}

var _ Source = (*Static)(nil)
