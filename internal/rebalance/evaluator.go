// Package rebalance implements the rebalance decision policy, trade
// planning and the request execution state machine.
//
// Evaluation and planning are pure functions; the Service persists their
// results and the Executor drives requests from PENDING through optional
// APPROVED to EXECUTED or FAILED. Holdings are always read through the
// ledger's interface, never from a private copy.
package rebalance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

// EvaluationResult reports whether rebalancing is warranted and why.
type EvaluationResult struct {
	Needed          bool
	TriggerType     domain.TriggerType // valid only when Needed
	Reason          string
	Deviations      map[domain.Constituent]decimal.Decimal
	MaxAbsDeviation decimal.Decimal
	ScheduleOverdue bool
}

// Evaluate applies the rebalance decision policy to the holdings snapshot.
// A deviation trigger fires whenever the largest absolute deviation reaches
// the policy threshold, regardless of elapsed time; a time trigger is
// reported only when the schedule is overdue and the deviation threshold
// was not independently exceeded. An empty basket never needs rebalancing.
func Evaluate(holdings *domain.AggregateHoldings, policy *domain.CompositionPolicy, now time.Time) *EvaluationResult {
	result := &EvaluationResult{
		Deviations:      make(map[domain.Constituent]decimal.Decimal),
		MaxAbsDeviation: decimal.Zero,
	}

	if holdings.TotalSupply.Sign() == 0 || holdings.ConstituentSum().Sign() == 0 {
		return result
	}

	deviations, maxAbs := policy.Deviations(holdings)
	result.Deviations = deviations
	result.MaxAbsDeviation = maxAbs
	result.ScheduleOverdue = policy.ScheduleOverdue(holdings.LastRebalanceAt, now)

	switch {
	case domain.GTEWithin(maxAbs, policy.MaxDeviationFraction):
		result.Needed = true
		result.TriggerType = domain.TriggerDeviation
		result.Reason = deviationReason(deviations, maxAbs)
	case result.ScheduleOverdue:
		result.Needed = true
		result.TriggerType = domain.TriggerTime
		result.Reason = scheduleReason(holdings.LastRebalanceAt, now)
	}

	return result
}

// deviationReason names the constituent with the largest absolute deviation
// (ties resolve to the first in sorted order).
func deviationReason(deviations map[domain.Constituent]decimal.Decimal, maxAbs decimal.Decimal) string {
	for _, c := range domain.SortedConstituents(deviations) {
		if deviations[c].Abs().Equal(maxAbs) {
			pct := maxAbs.Mul(decimal.NewFromInt(100)).InexactFloat64()
			return fmt.Sprintf("Deviation in %s allocation: %.2f%%", c, pct)
		}
	}
	return "Deviation in basket allocation"
}

func scheduleReason(last, now time.Time) string {
	if last.IsZero() {
		return "Scheduled rebalancing: no prior rebalance recorded"
	}
	days := now.Sub(last).Hours() / 24
	return fmt.Sprintf("Scheduled rebalancing after %.0f days", days)
}
