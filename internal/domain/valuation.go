package domain

// ValuationPoint is one per-constituent row of the valuation history.
// Reporting data derived from the decimal ledger at snapshot time.
// Corresponds to valuation_history table in ClickHouse.
type ValuationPoint struct {
	TimestampMs int64       // snapshot timestamp (ms)
	Constituent Constituent // asset
	Value       float64     // constituent total at snapshot
	Fraction    float64     // realized allocation fraction
	Deviation   float64     // signed deviation from target
	NAV         float64     // basket NAV at snapshot
	TotalSupply float64     // basket supply at snapshot
}
