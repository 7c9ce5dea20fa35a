package domain

import "github.com/shopspring/decimal"

// Numeric rules shared by every component. All monetary and fractional
// quantities are decimals. Derived amounts are rounded half-even (banker's
// rounding) at AmountScale, and threshold comparisons tolerate Tolerance
// instead of relying on exact equality.

// AmountScale is the decimal scale of derived monetary amounts.
const AmountScale = 8

var (
	// Tolerance is the policy-level comparison tolerance used by invariant
	// checks and threshold comparisons throughout the engine.
	Tolerance = decimal.New(1, -9)

	// DeviationEpsilon is the noise floor below which a constituent
	// deviation produces no trade operation.
	DeviationEpsilon = decimal.New(1, -3)
)

// RoundAmount rounds a derived amount half-even to AmountScale.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(AmountScale)
}

// EqualWithin reports whether |a-b| <= Tolerance.
func EqualWithin(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// GTEWithin reports a >= b, tolerating up to Tolerance of shortfall.
func GTEWithin(a, b decimal.Decimal) bool {
	return a.GreaterThanOrEqual(b) || b.Sub(a).LessThanOrEqual(Tolerance)
}

// SumAmounts adds the map's amounts in stable order.
func SumAmounts(m map[Constituent]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range SortedConstituents(m) {
		sum = sum.Add(m[c])
	}
	return sum
}

// SplitByFractions splits total across the given fractions. Each part is
// rounded half-even at AmountScale; the rounding remainder is assigned to
// the largest-fraction part (ties: first in sorted order) so the parts sum
// to total exactly, not merely within tolerance.
func SplitByFractions(total decimal.Decimal, fractions map[Constituent]decimal.Decimal) map[Constituent]decimal.Decimal {
	parts := make(map[Constituent]decimal.Decimal, len(fractions))
	order := SortedConstituents(fractions)
	if len(order) == 0 {
		return parts
	}

	largest := order[0]
	allocated := decimal.Zero
	for _, c := range order {
		p := RoundAmount(total.Mul(fractions[c]))
		parts[c] = p
		allocated = allocated.Add(p)
		if fractions[c].GreaterThan(fractions[largest]) {
			largest = c
		}
	}

	if rem := total.Sub(allocated); !rem.IsZero() {
		parts[largest] = parts[largest].Add(rem)
	}
	return parts
}

// SplitProportional splits amount in proportion to the given weights, with
// the same rounding and remainder rule as SplitByFractions. All-zero
// weights yield all-zero parts.
func SplitProportional(amount decimal.Decimal, weights map[Constituent]decimal.Decimal) map[Constituent]decimal.Decimal {
	parts := make(map[Constituent]decimal.Decimal, len(weights))
	order := SortedConstituents(weights)
	if len(order) == 0 {
		return parts
	}

	totalWeight := SumAmounts(weights)
	if totalWeight.IsZero() {
		for _, c := range order {
			parts[c] = decimal.Zero
		}
		return parts
	}

	largest := order[0]
	allocated := decimal.Zero
	for _, c := range order {
		p := RoundAmount(amount.Mul(weights[c]).Div(totalWeight))
		parts[c] = p
		allocated = allocated.Add(p)
		if weights[c].GreaterThan(weights[largest]) {
			largest = c
		}
	}

	if rem := amount.Sub(allocated); !rem.IsZero() {
		parts[largest] = parts[largest].Add(rem)
	}
	return parts
}
