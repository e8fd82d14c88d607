package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/indicator"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/strategy"
)

func newTestLoop(t *testing.T, cfg LoopConfig, gw model.OrderGateway, sink model.TradeSink, hooks LoopHooks) *Loop {
	t.Helper()
	log := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := NewManager(testConfig(), gw, sink, model.FixedSizer(100), log, Hooks{})
	mgr.sleep = func(time.Duration) {}
	ind := indicator.NewEngine(2, 3, 3)
	gen := strategy.NewGenerator(30, 70)
	return NewLoop(cfg, ind, gen, mgr, nil, log, hooks)
}

func TestLoop_ProcessesTicksInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []float64
	done := make(chan struct{})

	const n = 8
	hooks := LoopHooks{
		OnTick: func(price float64) {
			mu.Lock()
			seen = append(seen, price)
			if len(seen) == n {
				close(done)
			}
			mu.Unlock()
		},
	}
	// No gateway calls expected: prices fall so no entry fires.
	l := newTestLoop(t, LoopConfig{QueueSize: 16}, &scriptedGateway{}, &recordingSink{}, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < n; i++ {
		if !l.Submit(model.PricePoint{Symbol: "DOGEUSDT", Price: 100 - float64(i), TS: time.Now().UTC()}) {
			t.Fatalf("submit %d refused", i)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ticks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, p := range seen {
		if p != 100-float64(i) {
			t.Fatalf("tick %d out of order: got %v", i, p)
		}
	}
}

func TestLoop_OverflowDropsNewest(t *testing.T) {
	var drops int
	l := newTestLoop(t, LoopConfig{QueueSize: 2}, &scriptedGateway{}, &recordingSink{}, LoopHooks{
		OnDropped: func() { drops++ },
	})

	// Loop not running: the queue fills up.
	if !l.Submit(at(1)) || !l.Submit(at(2)) {
		t.Fatal("first two submits should be accepted")
	}
	if l.Submit(at(3)) {
		t.Fatal("third submit should be refused (queue full)")
	}
	if drops != 1 {
		t.Fatalf("expected 1 drop callback, got %d", drops)
	}

	// The queued ticks survive; the dropped one was the newest.
	p, _ := l.ring.Pop()
	if p.Price != 1 {
		t.Errorf("expected oldest tick first, got %v", p.Price)
	}
}

func TestLoop_StaleTickDrivesNoTransition(t *testing.T) {
	var stale int
	gw := &scriptedGateway{} // panics if any order is placed
	l := newTestLoop(t, LoopConfig{QueueSize: 8, Staleness: 5 * time.Second}, gw, &recordingSink{}, LoopHooks{
		OnStale: func() { stale++ },
	})

	// Warm the indicators with fresh rising ticks, entry condition true on
	// the last tick — but that tick is stale.
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		l.process(context.Background(), model.PricePoint{Symbol: "DOGEUSDT", Price: 100 + float64(i), TS: now})
	}
	l.process(context.Background(), model.PricePoint{Symbol: "DOGEUSDT", Price: 105, TS: now.Add(-time.Minute)})

	if stale != 1 {
		t.Fatalf("expected 1 stale callback, got %d", stale)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("stale tick must not transition, got %d order calls", len(gw.calls))
	}
}

func TestLoop_WarmupHolds(t *testing.T) {
	gw := &scriptedGateway{} // panics if any order is placed
	var signals []strategy.Action
	l := newTestLoop(t, LoopConfig{QueueSize: 8}, gw, &recordingSink{}, LoopHooks{
		OnSignal: func(a strategy.Action) { signals = append(signals, a) },
	})

	// RSI window is 3 → needs 4 prices. The first three rising ticks must
	// hold even though the EMAs already look bullish.
	for i := 0; i < 3; i++ {
		l.process(context.Background(), at(100+float64(i)))
	}
	for i, a := range signals {
		if a != strategy.ActionHold {
			t.Fatalf("tick %d during warm-up: got %s, want HOLD", i, a)
		}
	}
}

func TestLoop_RejectsSubmitAfterShutdown(t *testing.T) {
	l := newTestLoop(t, LoopConfig{QueueSize: 8}, &scriptedGateway{}, &recordingSink{}, LoopHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(loopDone)
	}()

	cancel()
	<-loopDone

	if l.Submit(at(100)) {
		t.Fatal("submit after shutdown must be refused")
	}
}

// slowGateway blocks each call for a fixed delay, honoring only its own
// order context — like a real network round trip during shutdown.
type slowGateway struct {
	delay  time.Duration
	filled int
}

func (g *slowGateway) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	select {
	case <-time.After(g.delay):
		g.filled++
		return model.OrderResult{
			OrderID:     "SLOW-FILL",
			Symbol:      req.Symbol,
			Side:        req.Side,
			Quantity:    req.Quantity,
			FilledPrice: req.RequestedPrice,
			Status:      model.OrderFilled,
		}, nil
	case <-ctx.Done():
		return model.OrderResult{}, ctx.Err()
	}
}

func TestLoop_ShutdownFinishesInFlightTransition(t *testing.T) {
	gw := &slowGateway{delay: 50 * time.Millisecond}
	sink := &recordingSink{}

	log := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := NewManager(testConfig(), gw, sink, model.FixedSizer(100), log, Hooks{})
	mgr.sleep = func(time.Duration) {}
	ind := indicator.NewEngine(2, 3, 2)
	gen := strategy.NewGenerator(0, 100) // any RSI enters on a crossover
	l := NewLoop(LoopConfig{QueueSize: 8}, ind, gen, mgr, nil, log, LoopHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(loopDone)
	}()

	// Warm up, then submit the tick that triggers the entry order and
	// cancel mid-flight.
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		l.Submit(model.PricePoint{Symbol: "DOGEUSDT", Price: 100 + float64(i), TS: now})
	}
	time.Sleep(20 * time.Millisecond) // let the loop reach the order call
	cancel()

	select {
	case <-loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	// The in-flight order resolved despite cancellation: the order context
	// is detached from the loop context.
	if gw.filled != 1 {
		t.Fatalf("expected the in-flight order to fill, got %d fills", gw.filled)
	}
	if got := mgr.Position().Status; got != model.StatusOpen {
		t.Fatalf("expected Open after completed entry, got %s", got)
	}
}
