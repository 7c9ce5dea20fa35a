package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BasketToken is one unit of issued basket exposure.
// Corresponds to basket_tokens table in PostgreSQL.
type BasketToken struct {
	ID                 string                          // MBT-prefixed, globally unique
	Owner              string                          // opaque account identifier
	TotalValue         decimal.Decimal                 // issued basket units, >= 0
	ConstituentAmounts map[Constituent]decimal.Decimal // per-asset claim, sums to TotalValue
	CreatedAt          time.Time                       // mint time
	LastRebalancedAt   time.Time                       // informational, set at mint
}

// Clone returns a deep copy safe for the caller to mutate.
func (t *BasketToken) Clone() *BasketToken {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ConstituentAmounts = CloneAmounts(t.ConstituentAmounts)
	return &cp
}

// AggregateHoldings is the basket-wide running state, singleton per basket.
// Version carries the optimistic-concurrency counter: every write is
// conditional on the version observed at read time.
type AggregateHoldings struct {
	TotalSupply       decimal.Decimal                 // sum of all live tokens' TotalValue
	ConstituentTotals map[Constituent]decimal.Decimal // basket-wide per-asset totals
	RebalanceNeeded   bool                            // cached drift/schedule check
	LastRebalanceAt   time.Time                       // last successful rebalance
	Version           int64                           // optimistic concurrency version
}

// Clone returns a deep copy safe for the caller to mutate.
func (h *AggregateHoldings) Clone() *AggregateHoldings {
	if h == nil {
		return nil
	}
	cp := *h
	cp.ConstituentTotals = CloneAmounts(h.ConstituentTotals)
	return &cp
}

// ConstituentSum returns the sum of all constituent totals.
func (h *AggregateHoldings) ConstituentSum() decimal.Decimal {
	return SumAmounts(h.ConstituentTotals)
}

// NewZeroHoldings returns the zero-state record created on first access.
// The rebalance clock starts at creation time: a fresh basket is not born
// overdue.
func NewZeroHoldings(now time.Time) *AggregateHoldings {
	return &AggregateHoldings{
		TotalSupply:       decimal.Zero,
		ConstituentTotals: make(map[Constituent]decimal.Decimal),
		LastRebalanceAt:   now,
	}
}

// RedemptionResult reports what a redemption released.
type RedemptionResult struct {
	TokenID            string                          // redeemed token
	Owner              string                          // token owner
	Amount             decimal.Decimal                 // basket units redeemed
	ConstituentAmounts map[Constituent]decimal.Decimal // released per asset, sums to Amount
	RemainingValue     decimal.Decimal                 // token value left after redemption
	FullyRedeemed      bool                            // the token record was deleted
}

// CloneAmounts returns a copy of a constituent amount map.
func CloneAmounts(m map[Constituent]decimal.Decimal) map[Constituent]decimal.Decimal {
	cp := make(map[Constituent]decimal.Decimal, len(m))
	for c, v := range m {
		cp[c] = v
	}
	return cp
}
