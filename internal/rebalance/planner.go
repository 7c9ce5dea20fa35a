package rebalance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/ids"
)

// BuildPlan converts a triggered evaluation into a PENDING rebalance
// request and its constituent trade operations. Pure; persisting the plan
// is the caller's step.
//
// Constituents with an absolute deviation below domain.DeviationEpsilon are
// noise and produce no operation. A trade amount below the policy's
// minimum is skipped, which can legitimately leave a request with zero
// operations. The approval requirement is decided on the largest trade
// amount before the minimum-trade filter.
func BuildPlan(eval *EvaluationResult, holdings *domain.AggregateHoldings, policy *domain.CompositionPolicy, priceTable map[domain.Constituent]decimal.Decimal, now time.Time) (*domain.RebalanceRequest, []*domain.RebalanceOperation, error) {
	total := holdings.ConstituentSum()

	current := make(map[domain.Constituent]decimal.Decimal, len(holdings.ConstituentTotals))
	if total.Sign() != 0 {
		for _, c := range domain.SortedConstituents(holdings.ConstituentTotals) {
			current[c] = holdings.ConstituentTotals[c].Div(total)
		}
	}

	requestID := ids.NewRequestID()
	req := &domain.RebalanceRequest{
		ID:                requestID,
		TriggerType:       eval.TriggerType,
		TriggerReason:     eval.Reason,
		CurrentAllocation: current,
		TargetAllocation:  domain.CloneAmounts(policy.TargetFractions),
		Deviations:        domain.CloneAmounts(eval.Deviations),
		Status:            domain.StatusPending,
		CreatedAt:         now,
	}

	var ops []*domain.RebalanceOperation
	maxTrade := decimal.Zero

	for _, c := range domain.SortedConstituents(eval.Deviations) {
		dev := eval.Deviations[c]
		if dev.Abs().LessThan(domain.DeviationEpsilon) {
			continue
		}

		tradeAmount := domain.RoundAmount(dev.Abs().Mul(total))
		if tradeAmount.GreaterThan(maxTrade) {
			maxTrade = tradeAmount
		}
		if tradeAmount.LessThan(policy.MinTradeAmount) {
			continue
		}

		// Overweight sells down to target, underweight buys up.
		direction := domain.DirectionBuy
		if dev.Sign() > 0 {
			direction = domain.DirectionSell
		}

		price, ok := priceTable[c]
		if !ok {
			return nil, nil, fmt.Errorf("no price for %s: %w", c, domain.ErrPriceUnavailable)
		}

		ops = append(ops, &domain.RebalanceOperation{
			ID:            ids.OperationID(requestID, c),
			RequestID:     requestID,
			Constituent:   c,
			Direction:     direction,
			Amount:        tradeAmount,
			PriceAtPlan:   price,
			EstimatedCost: domain.RoundAmount(tradeAmount.Mul(price)),
		})
	}

	req.ApprovalRequired = domain.GTEWithin(maxTrade, policy.ApprovalThreshold)

	return req, ops, nil
}
