package model

import "time"

// Status is the lifecycle state of the position slot.
type Status string

const (
	StatusFlat     Status = "FLAT"
	StatusEntering Status = "ENTERING"
	StatusOpen     Status = "OPEN"
	StatusExiting  Status = "EXITING"
)

// Position is the single tracked trading position (long-only).
// Exactly one Position value exists; the engine's PositionManager is its
// sole owner and mutator. StopLoss and TakeProfit are computed once when
// the entry order fills and never change while the position is open.
type Position struct {
	Symbol     string    `json:"symbol"`
	Status     Status    `json:"status"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	EntryTS    time.Time `json:"entry_ts"`

	// ExitPending marks an Open position whose exit retries were exhausted;
	// the next tick re-attempts the exit before anything else.
	ExitPending bool `json:"exit_pending"`
}

// UnrealizedPnL computes the mark-to-market profit/loss at the given price.
func (p *Position) UnrealizedPnL(last float64) float64 {
	if p.Status != StatusOpen {
		return 0
	}
	return (last - p.EntryPrice) * p.Quantity
}
