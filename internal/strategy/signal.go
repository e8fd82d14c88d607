// Package strategy maps indicator state to trading intent.
//
// The Generator is a pure function of (snapshot, position, price): no side
// effects, no stored state beyond its configured thresholds. Identical
// inputs always produce identical signals.
package strategy

// Action represents a trading intent.
type Action string

const (
	ActionEnter Action = "ENTER"
	ActionExit  Action = "EXIT"
	ActionHold  Action = "HOLD"
)

// Signal is the trading intent for one tick, with the rule that fired.
type Signal struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Exit reasons, also recorded on the closed trade.
const (
	ReasonStopLoss   = "stop loss breached"
	ReasonTakeProfit = "take profit reached"
	ReasonReversal   = "EMA reversal (fast < slow)"
	ReasonCrossover  = "EMA crossover with RSI in band"
)

// Hold is the zero-intent signal.
var Hold = Signal{Action: ActionHold}
