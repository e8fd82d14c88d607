package indicator

// EMA calculates an Exponential Moving Average.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++

	if e.count == 1 {
		// Seed from the first price, matching an adjust=false exponentially
		// weighted mean recomputed over the full history.
		e.current = price
		return
	}

	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }

// Ready reports whether at least one full period of prices has been seen.
// The value is defined from the first tick but carries heavy seed weight
// until then.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Period returns the configured smoothing period.
func (e *EMA) Period() int { return e.period }
