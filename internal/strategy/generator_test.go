package strategy

import (
	"testing"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/indicator"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

func snap(fast, slow, rsi float64) indicator.Snapshot {
	return indicator.Snapshot{EMAFast: fast, EMASlow: slow, RSI: rsi, Ready: true}
}

func openPos(entry, sl, tp float64) model.Position {
	return model.Position{
		Symbol:     "DOGEUSDT",
		Status:     model.StatusOpen,
		EntryPrice: entry,
		Quantity:   100,
		StopLoss:   sl,
		TakeProfit: tp,
	}
}

func TestEvaluate_EntryRules(t *testing.T) {
	g := NewGenerator(30, 70)
	flat := model.Position{Status: model.StatusFlat}

	cases := []struct {
		name string
		snap indicator.Snapshot
		want Action
	}{
		{"crossover with RSI mid-band", snap(102, 101, 50), ActionEnter},
		{"RSI at lower bound is inclusive", snap(102, 101, 30), ActionEnter},
		{"RSI at upper bound is inclusive", snap(102, 101, 70), ActionEnter},
		{"RSI overbought blocks entry", snap(102, 101, 71), ActionHold},
		{"RSI oversold blocks entry", snap(102, 101, 29), ActionHold},
		{"fast below slow blocks entry", snap(100, 101, 50), ActionHold},
		{"fast equal slow blocks entry", snap(101, 101, 50), ActionHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := g.Evaluate(tc.snap, flat, 100)
			if got.Action != tc.want {
				t.Errorf("got %s (%s), want %s", got.Action, got.Reason, tc.want)
			}
		})
	}
}

func TestEvaluate_ExitRules(t *testing.T) {
	g := NewGenerator(30, 70)
	pos := openPos(100, 99, 102)

	cases := []struct {
		name       string
		snap       indicator.Snapshot
		price      float64
		want       Action
		wantReason string
	}{
		{"stop loss breach", snap(102, 101, 50), 98.5, ActionExit, ReasonStopLoss},
		{"stop loss exactly at threshold", snap(102, 101, 50), 99, ActionExit, ReasonStopLoss},
		{"take profit reach", snap(102, 101, 50), 102.5, ActionExit, ReasonTakeProfit},
		{"EMA reversal", snap(100, 101, 50), 100.5, ActionExit, ReasonReversal},
		{"inside band, no reversal", snap(102, 101, 50), 100.5, ActionHold, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := g.Evaluate(tc.snap, pos, tc.price)
			if got.Action != tc.want {
				t.Fatalf("got %s, want %s", got.Action, tc.want)
			}
			if tc.wantReason != "" && got.Reason != tc.wantReason {
				t.Errorf("got reason %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestEvaluate_TieBreak(t *testing.T) {
	g := NewGenerator(30, 70)
	// A gap tick at 98 both breaches the stop (99) and, with inverted
	// bounds from a data glitch, would satisfy a crossing take-profit at 97.
	pos := openPos(100, 99, 97)

	got := g.Evaluate(snap(102, 101, 50), pos, 98)
	if got.Action != ActionExit || got.Reason != ReasonStopLoss {
		t.Fatalf("tie must resolve to stop loss, got %s (%s)", got.Action, got.Reason)
	}
}

func TestEvaluate_NotReadyHolds(t *testing.T) {
	g := NewGenerator(30, 70)
	warming := indicator.Snapshot{EMAFast: 102, EMASlow: 101, RSI: 0, Ready: false}

	if got := g.Evaluate(warming, model.Position{Status: model.StatusFlat}, 100); got.Action != ActionHold {
		t.Errorf("insufficient data must hold, got %s", got.Action)
	}

	// Same for an open position: warm-up never fires indicator exits.
	if got := g.Evaluate(warming, openPos(100, 99, 102), 100.5); got.Action != ActionHold {
		t.Errorf("insufficient data must hold on open position, got %s", got.Action)
	}
}

func TestEvaluate_TransitionalStatesHold(t *testing.T) {
	g := NewGenerator(30, 70)
	bullish := snap(102, 101, 50)

	for _, st := range []model.Status{model.StatusEntering, model.StatusExiting} {
		pos := model.Position{Status: st}
		if got := g.Evaluate(bullish, pos, 100); got.Action != ActionHold {
			t.Errorf("status %s: expected Hold, got %s", st, got.Action)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	g := NewGenerator(30, 70)
	inputs := []struct {
		snap  indicator.Snapshot
		pos   model.Position
		price float64
	}{
		{snap(102, 101, 50), model.Position{Status: model.StatusFlat}, 100},
		{snap(100, 101, 50), openPos(100, 99, 102), 100.5},
		{snap(102, 101, 50), openPos(100, 99, 102), 98},
	}

	for i, in := range inputs {
		first := g.Evaluate(in.snap, in.pos, in.price)
		for run := 0; run < 3; run++ {
			if got := g.Evaluate(in.snap, in.pos, in.price); got != first {
				t.Fatalf("input %d: non-deterministic output %+v vs %+v", i, got, first)
			}
		}
	}
}
