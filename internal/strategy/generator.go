package strategy

import (
	"github.com/estebanc28/crypto-trading-bot-binance/internal/indicator"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

// Generator derives Enter/Exit/Hold signals from indicator snapshots.
//
// Entry (position Flat): emaFast > emaSlow AND rsiLow <= RSI <= rsiHigh.
// Exit (position Open):  price <= stopLoss OR price >= takeProfit OR
// emaFast < emaSlow. When a gap tick satisfies both thresholds at once,
// stop-loss takes precedence — risk containment outranks profit-taking.
type Generator struct {
	rsiLow  float64
	rsiHigh float64
}

// NewGenerator creates a signal generator with the given RSI entry band
// (defaults 30/70 in config).
func NewGenerator(rsiLow, rsiHigh float64) *Generator {
	return &Generator{rsiLow: rsiLow, rsiHigh: rsiHigh}
}

// Evaluate maps one tick's indicator snapshot and the current position to a
// signal. A not-ready snapshot always holds: the indicators are still
// warming up and entering on them would be trading noise.
func (g *Generator) Evaluate(snap indicator.Snapshot, pos model.Position, price float64) Signal {
	if !snap.Ready {
		return Hold
	}

	switch pos.Status {
	case model.StatusFlat:
		if snap.EMAFast > snap.EMASlow && snap.RSI >= g.rsiLow && snap.RSI <= g.rsiHigh {
			return Signal{Action: ActionEnter, Reason: ReasonCrossover}
		}

	case model.StatusOpen:
		// Stop-loss checked first: on a gap tick breaching both thresholds
		// the loss-containing exit wins.
		if price <= pos.StopLoss {
			return Signal{Action: ActionExit, Reason: ReasonStopLoss}
		}
		if price >= pos.TakeProfit {
			return Signal{Action: ActionExit, Reason: ReasonTakeProfit}
		}
		if snap.EMAFast < snap.EMASlow {
			return Signal{Action: ActionExit, Reason: ReasonReversal}
		}
	}

	return Hold
}
