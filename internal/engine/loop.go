package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/indicator"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/logger"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/ringbuf"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/strategy"
)

// LoopConfig holds the scheduling parameters of the decision loop.
type LoopConfig struct {
	// QueueSize bounds the tick queue between the feed and the loop.
	QueueSize int

	// Staleness is the maximum tick age that may still drive a state
	// transition. Older ticks advance the indicators but trade nothing.
	// Zero disables the check (replay/backfill).
	Staleness time.Duration
}

// LoopHooks are optional observability callbacks.
type LoopHooks struct {
	OnTick      func(price float64)
	OnDropped   func()
	OnStale     func()
	OnSignal    func(action strategy.Action)
	OnProcessed func(pos model.Position, dur time.Duration)
}

// Loop is the per-symbol decision loop: one goroutine consuming price ticks
// strictly in arrival order. A tick's full transition — including any order
// round trip — resolves before the next tick is taken, so no two ticks ever
// mutate the position concurrently. Ticks arriving while a transition is
// pending queue up in a bounded ring; on overflow the newest tick is
// dropped with a backpressure warning.
type Loop struct {
	cfg   LoopConfig
	ind   *indicator.Engine
	gen   *strategy.Generator
	mgr   *Manager
	ring  *ringbuf.Ring
	fills <-chan model.OrderResult
	log   *slog.Logger
	hooks LoopHooks

	notify chan struct{}
	closed atomic.Bool

	// now is swapped out in staleness tests.
	now func() time.Time
}

// NewLoop wires the indicator engine, signal generator and position manager
// into a tick scheduler. fills may be nil when the gateway pushes no
// asynchronous execution reports.
func NewLoop(cfg LoopConfig, ind *indicator.Engine, gen *strategy.Generator, mgr *Manager, fills <-chan model.OrderResult, log *slog.Logger, hooks LoopHooks) *Loop {
	return &Loop{
		cfg:    cfg,
		ind:    ind,
		gen:    gen,
		mgr:    mgr,
		ring:   ringbuf.New(cfg.QueueSize),
		fills:  fills,
		log:    log,
		hooks:  hooks,
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Submit hands a tick to the loop. Returns false when the tick was not
// accepted: the loop is shutting down, or the queue is full (the newest
// tick is the one dropped — price staleness is safer than unbounded
// memory growth).
func (l *Loop) Submit(p model.PricePoint) bool {
	if l.closed.Load() {
		return false
	}
	if !l.ring.Push(p) {
		l.log.Warn("tick queue full, dropping newest tick",
			slog.Float64("price", p.Price),
			slog.Uint64("dropped_total", l.ring.Overflow()))
		if l.hooks.OnDropped != nil {
			l.hooks.OnDropped()
		}
		return false
	}
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// QueueLen reports the current tick queue depth (for saturation metrics).
func (l *Loop) QueueLen() int { return l.ring.Len() }

// Run drives the loop until ctx is cancelled. On shutdown no new ticks are
// accepted and the in-flight transition finishes before Run returns; ticks
// still queued are discarded, never half-processed.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.closed.Store(true)
			l.log.Info("decision loop stopped", slog.Int("discarded_ticks", l.ring.Len()))
			return
		case res, ok := <-l.fills:
			if ok {
				l.mgr.HandleFillReport(res)
			}
		case <-l.notify:
			for {
				p, ok := l.ring.Pop()
				if !ok {
					break
				}
				l.process(ctx, p)
				if ctx.Err() != nil {
					// Current transition resolved; stop before the next tick.
					l.closed.Store(true)
					l.log.Info("decision loop stopped", slog.Int("discarded_ticks", l.ring.Len()))
					return
				}
			}
		}
	}
}

// process runs one full pass: indicator update → signal → state machine.
func (l *Loop) process(ctx context.Context, tick model.PricePoint) {
	start := l.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(tick.Symbol, tick.TS))

	if l.hooks.OnTick != nil {
		l.hooks.OnTick(tick.Price)
	}

	snap, err := l.ind.Update(tick.Price)
	if err != nil {
		l.log.Warn("tick rejected by indicator engine",
			append([]any{slog.Float64("price", tick.Price), slog.Any("err", err)}, logger.LogWithTrace(ctx)...)...)
		return
	}

	if l.cfg.Staleness > 0 {
		if age := l.now().Sub(tick.TS); age > l.cfg.Staleness {
			// Feed disruption: the price is too old to act on. Indicators
			// advanced above so they stay aligned with the stream.
			l.log.Warn("stale tick, no transition",
				append([]any{slog.Duration("age", age), slog.Float64("price", tick.Price)}, logger.LogWithTrace(ctx)...)...)
			if l.hooks.OnStale != nil {
				l.hooks.OnStale()
			}
			return
		}
	}

	sig := l.gen.Evaluate(snap, l.mgr.Position(), tick.Price)
	if l.hooks.OnSignal != nil {
		l.hooks.OnSignal(sig.Action)
	}

	l.mgr.Step(ctx, sig, tick)

	if l.hooks.OnProcessed != nil {
		l.hooks.OnProcessed(l.mgr.Position(), l.now().Sub(start))
	}
}
