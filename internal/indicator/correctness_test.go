package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// emaFromScratch recomputes an adjust=false exponentially weighted mean over
// the full price history — the reference the incremental EMA must match.
func emaFromScratch(prices []float64, period int) float64 {
	k := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// rsiFromScratch recomputes RSI from the last `window` deltas of the full
// price history using plain rolling means of gains and losses.
func rsiFromScratch(prices []float64, window int) float64 {
	deltas := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		deltas = append(deltas, prices[i]-prices[i-1])
	}
	if len(deltas) < window {
		return 0
	}
	deltas = deltas[len(deltas)-window:]

	var gain, loss float64
	for _, d := range deltas {
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(window)
	avgLoss := loss / float64(window)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// walk generates a deterministic zig-zag price series around base.
func walk(base float64, n int) []float64 {
	prices := make([]float64, n)
	p := base
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			p += base * 0.004
		} else if i%7 == 0 {
			p -= base * 0.009
		} else {
			p -= base * 0.001
		}
		prices[i] = p
	}
	return prices
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5, seeded from the first price.
	// Prices: 100, 102, 104, 103, 105
	//
	// Tick 1: EMA = 100 (seed)
	// Tick 2: EMA = 102*0.5 + 100*0.5    = 101.0
	// Tick 3: EMA = 104*0.5 + 101*0.5    = 102.5
	// Tick 4: EMA = 103*0.5 + 102.5*0.5  = 102.75
	// Tick 5: EMA = 105*0.5 + 102.75*0.5 = 103.875

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{100.0, 101.0, 102.5, 102.75, 103.875}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != ready[i] {
			t.Errorf("tick %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
	}
}

func TestEMA_MatchesFromScratch(t *testing.T) {
	prices := walk(0.08, 500)

	for _, period := range []int{9, 21} {
		ema := NewEMA(period)
		for i, p := range prices {
			ema.Update(p)
			want := emaFromScratch(prices[:i+1], period)
			assertClose(t, "EMA incremental vs recompute", ema.Value(), want, 1e-9)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Window3(t *testing.T) {
	// Prices: 100, 102, 101, 103, 104 → deltas: +2, -1, +2, +1
	//
	// After 3 deltas (+2,-1,+2): avgGain=4/3, avgLoss=1/3 → RS=4 → RSI=80
	// Delta +1 evicts +2 (-1,+2,+1): avgGain=1,   avgLoss=1/3 → RS=3 → RSI=75

	rsi := NewRSI(3)
	prices := []float64{100, 102, 101, 103, 104}
	ready := []bool{false, false, false, true, true}
	expected := []float64{0, 0, 0, 80.0, 75.0}

	for i, p := range prices {
		rsi.Update(p)
		if rsi.Ready() != ready[i] {
			t.Errorf("tick %d: Ready()=%v, want %v", i, rsi.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "RSI(3)", rsi.Value(), expected[i], 1e-9)
		}
	}
}

func TestRSI_AllGains_Is100(t *testing.T) {
	rsi := NewRSI(4)
	for p := 100.0; p < 110; p++ {
		rsi.Update(p)
	}
	if !rsi.Ready() {
		t.Fatal("expected RSI ready")
	}
	assertClose(t, "RSI all gains", rsi.Value(), 100.0, 1e-9)
}

func TestRSI_MatchesFromScratch(t *testing.T) {
	prices := walk(0.08, 400)
	const window = 14

	rsi := NewRSI(window)
	for i, p := range prices {
		rsi.Update(p)
		if !rsi.Ready() {
			continue
		}
		want := rsiFromScratch(prices[:i+1], window)
		assertClose(t, "RSI incremental vs recompute", rsi.Value(), want, 1e-6)
	}
}

// ────────────────────────────────────────────────────────────
// Engine
// ────────────────────────────────────────────────────────────

func TestEngine_WarmupGatesOnRSI(t *testing.T) {
	e := NewEngine(2, 3, 5)

	// 5 deltas need 6 prices; snapshot must report not-ready before that.
	for i := 0; i < 5; i++ {
		snap, err := e.Update(100 + float64(i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.Ready {
			t.Fatalf("tick %d: snapshot ready before RSI window filled", i)
		}
	}

	snap, err := e.Update(106)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Ready {
		t.Fatal("expected ready snapshot after warm-up")
	}
	if snap.EMAFast <= snap.EMASlow {
		t.Errorf("rising prices should give EMAFast > EMASlow, got %.4f <= %.4f", snap.EMAFast, snap.EMASlow)
	}
	assertClose(t, "RSI on pure uptrend", snap.RSI, 100.0, 1e-9)
}

func TestEngine_RejectsNonPositivePrices(t *testing.T) {
	e := NewEngine(9, 21, 14)

	if _, err := e.Update(100); err != nil {
		t.Fatalf("valid price rejected: %v", err)
	}

	for _, bad := range []float64{0, -0.5} {
		if _, err := e.Update(bad); err != ErrNonPositivePrice {
			t.Errorf("price %v: expected ErrNonPositivePrice, got %v", bad, err)
		}
	}

	// Rejected prices must not have advanced any state.
	snap, err := e.Update(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertClose(t, "EMA unaffected by rejected prices", snap.EMAFast, 100.0, 1e-9)
}

func TestEngine_Deterministic(t *testing.T) {
	prices := walk(0.08, 200)

	a := NewEngine(9, 21, 14)
	b := NewEngine(9, 21, 14)

	for _, p := range prices {
		sa, errA := a.Update(p)
		sb, errB := b.Update(p)
		if errA != nil || errB != nil {
			t.Fatalf("unexpected errors: %v %v", errA, errB)
		}
		if sa != sb {
			t.Fatalf("identical inputs diverged: %+v vs %+v", sa, sb)
		}
	}
}
