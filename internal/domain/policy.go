package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CompositionPolicy is the basket's target-composition configuration.
// Created once at system bootstrap and read-only thereafter; policy changes
// are a separate administrative workflow.
type CompositionPolicy struct {
	TargetFractions       map[Constituent]decimal.Decimal // must sum to 1 within Tolerance
	MaxDeviationFraction  decimal.Decimal                 // deviation trigger threshold
	RebalanceIntervalDays int                             // schedule trigger interval
	MinTradeAmount        decimal.Decimal                 // operations below this are skipped
	ApprovalThreshold     decimal.Decimal                 // largest trade at or above requires approval
	CreatedAt             time.Time                       // bootstrap time
}

// DefaultPolicy returns the reference composition: 50% gold, 30% silver,
// 20% platinum, 5% deviation threshold, 30 day interval, 1000 minimum
// trade, 100000 approval threshold.
func DefaultPolicy(now time.Time) *CompositionPolicy {
	return &CompositionPolicy{
		TargetFractions: map[Constituent]decimal.Decimal{
			ConstituentGold:     decimal.RequireFromString("0.5"),
			ConstituentSilver:   decimal.RequireFromString("0.3"),
			ConstituentPlatinum: decimal.RequireFromString("0.2"),
		},
		MaxDeviationFraction:  decimal.RequireFromString("0.05"),
		RebalanceIntervalDays: 30,
		MinTradeAmount:        decimal.NewFromInt(1000),
		ApprovalThreshold:     decimal.NewFromInt(100000),
		CreatedAt:             now,
	}
}

// Clone returns a deep copy safe for the caller to mutate.
func (p *CompositionPolicy) Clone() *CompositionPolicy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.TargetFractions = CloneAmounts(p.TargetFractions)
	return &cp
}

// Validate checks structural soundness of the policy.
func (p *CompositionPolicy) Validate() error {
	if len(p.TargetFractions) == 0 {
		return fmt.Errorf("policy has no target fractions")
	}
	sum := decimal.Zero
	for _, c := range SortedConstituents(p.TargetFractions) {
		f := p.TargetFractions[c]
		if !f.IsPositive() {
			return fmt.Errorf("target fraction for %s must be positive, got %s", c, f)
		}
		sum = sum.Add(f)
	}
	if !EqualWithin(sum, decimal.NewFromInt(1)) {
		return fmt.Errorf("target fractions must sum to 1, got %s", sum)
	}
	if !p.MaxDeviationFraction.IsPositive() || p.MaxDeviationFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("max deviation fraction must be in (0,1), got %s", p.MaxDeviationFraction)
	}
	if p.RebalanceIntervalDays <= 0 {
		return fmt.Errorf("rebalance interval must be positive, got %d days", p.RebalanceIntervalDays)
	}
	if p.MinTradeAmount.IsNegative() {
		return fmt.Errorf("minimum trade amount must not be negative, got %s", p.MinTradeAmount)
	}
	if p.ApprovalThreshold.IsNegative() {
		return fmt.Errorf("approval threshold must not be negative, got %s", p.ApprovalThreshold)
	}
	return nil
}

// Constituents returns the policy's constituent set in stable sorted order.
func (p *CompositionPolicy) Constituents() []Constituent {
	return SortedConstituents(p.TargetFractions)
}

// Deviations returns each constituent's signed deviation (realized fraction
// minus target fraction) and the maximum absolute deviation. A zero
// constituent sum yields all-zero deviations.
func (p *CompositionPolicy) Deviations(h *AggregateHoldings) (map[Constituent]decimal.Decimal, decimal.Decimal) {
	devs := make(map[Constituent]decimal.Decimal, len(p.TargetFractions))
	maxAbs := decimal.Zero

	sum := h.ConstituentSum()
	if sum.IsZero() {
		for _, c := range p.Constituents() {
			devs[c] = decimal.Zero
		}
		return devs, maxAbs
	}

	for _, c := range p.Constituents() {
		current := h.ConstituentTotals[c].Div(sum)
		dev := current.Sub(p.TargetFractions[c])
		devs[c] = dev
		if dev.Abs().GreaterThan(maxAbs) {
			maxAbs = dev.Abs()
		}
	}
	return devs, maxAbs
}

// ScheduleOverdue reports whether the rebalance interval has elapsed since
// last. A zero timestamp fails safe toward rebalancing, not away from it.
func (p *CompositionPolicy) ScheduleOverdue(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	days := int(now.Sub(last).Hours() / 24)
	return days >= p.RebalanceIntervalDays
}

// RebalanceNeeded reports whether holdings drifted past the deviation
// threshold or the schedule is overdue. Ledger mutations use this cheap
// check to refresh the cached flag; an empty basket never needs
// rebalancing.
func (p *CompositionPolicy) RebalanceNeeded(h *AggregateHoldings, now time.Time) bool {
	if h.TotalSupply.IsZero() || h.ConstituentSum().IsZero() {
		return false
	}
	if _, maxAbs := p.Deviations(h); GTEWithin(maxAbs, p.MaxDeviationFraction) {
		return true
	}
	return p.ScheduleOverdue(h.LastRebalanceAt, now)
}
