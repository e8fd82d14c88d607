// Package indicator provides incremental technical indicator calculations
// over a streaming price sequence.
//
// All indicators update in O(1) per tick; none reconstruct their value from
// the full price history. Incremental output must match a from-scratch
// recomputation within floating tolerance (covered by tests).
package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g. "EMA", "RSI").
	Name() string

	// Update feeds a new price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSI)(nil)
)
