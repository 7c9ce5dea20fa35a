// Package nav computes the basket's net asset value from aggregate
// holdings and a price snapshot.
package nav

import (
	"fmt"

	"github.com/shopspring/decimal"

	"metal-basket-engine/internal/domain"
)

// ConstituentValues returns the market value per constituent
// (amount * price). A missing price for a constituent with a non-zero
// amount is domain.ErrPriceUnavailable.
func ConstituentValues(holdings *domain.AggregateHoldings, prices map[domain.Constituent]decimal.Decimal) (map[domain.Constituent]decimal.Decimal, error) {
	values := make(map[domain.Constituent]decimal.Decimal, len(holdings.ConstituentTotals))
	for _, c := range domain.SortedConstituents(holdings.ConstituentTotals) {
		amount := holdings.ConstituentTotals[c]
		price, ok := prices[c]
		if !ok {
			if amount.Sign() == 0 {
				values[c] = decimal.Zero
				continue
			}
			return nil, fmt.Errorf("no price for %s: %w", c, domain.ErrPriceUnavailable)
		}
		values[c] = amount.Mul(price)
	}
	return values, nil
}

// Compute returns the basket NAV: total constituent market value divided by
// total supply, rounded per the ledger rounding rule. A basket with zero
// supply has NAV zero.
func Compute(holdings *domain.AggregateHoldings, prices map[domain.Constituent]decimal.Decimal) (decimal.Decimal, error) {
	if holdings.TotalSupply.Sign() == 0 {
		return decimal.Zero, nil
	}

	values, err := ConstituentValues(holdings, prices)
	if err != nil {
		return decimal.Zero, err
	}

	return domain.RoundAmount(domain.SumAmounts(values).Div(holdings.TotalSupply)), nil
}
