package indicator

import "errors"

// ErrNonPositivePrice is returned by Engine.Update for prices <= 0.
// It is the only input validation the engine performs.
var ErrNonPositivePrice = errors.New("indicator: non-positive price")

// Snapshot is the indicator state derived from the price history up to the
// current tick. Ready is false until the RSI delta window is filled; the
// signal generator must treat a not-ready snapshot as Hold.
type Snapshot struct {
	EMAFast float64 `json:"ema_fast"`
	EMASlow float64 `json:"ema_slow"`
	RSI     float64 `json:"rsi"`
	Ready   bool    `json:"ready"`
}

// Engine maintains the rolling indicator state for a single symbol.
// Designed for single-goroutine usage — no locks needed.
type Engine struct {
	fast *EMA
	slow *EMA
	rsi  *RSI
}

// NewEngine creates an indicator engine with the given EMA periods
// (fastPeriod < slowPeriod) and RSI delta window.
func NewEngine(fastPeriod, slowPeriod, rsiWindow int) *Engine {
	return &Engine{
		fast: NewEMA(fastPeriod),
		slow: NewEMA(slowPeriod),
		rsi:  NewRSI(rsiWindow),
	}
}

// Update feeds one price into all indicators and returns the resulting
// snapshot. Non-positive prices are rejected without mutating any state.
func (e *Engine) Update(price float64) (Snapshot, error) {
	if price <= 0 {
		return Snapshot{}, ErrNonPositivePrice
	}

	e.fast.Update(price)
	e.slow.Update(price)
	e.rsi.Update(price)

	return Snapshot{
		EMAFast: e.fast.Value(),
		EMASlow: e.slow.Value(),
		RSI:     e.rsi.Value(),
		Ready:   e.rsi.Ready(),
	}, nil
}
