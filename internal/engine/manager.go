// Package engine contains the decision core: the position state machine
// and the tick-driven loop that feeds it.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/strategy"
)

// settledCap bounds the order-id dedup memory. Old entries are evicted in
// insertion order once the cap is reached.
const settledCap = 1024

// ManagerConfig holds the risk and retry parameters of the state machine.
// Validation happens in config.Load; the manager assumes consistency.
type ManagerConfig struct {
	Symbol         string
	StopLossPct    float64 // e.g. 0.01 = 1%
	TakeProfitPct  float64 // e.g. 0.02 = 2%
	OrderTimeout   time.Duration
	MaxExitRetries int           // resubmissions after the first exit attempt
	RetryBackoff   time.Duration // doubled after each failed exit attempt
}

// Hooks are optional observability callbacks (wired to metrics in main).
type Hooks struct {
	OnOrder         func(side model.Side, status model.OrderStatus)
	OnTradeClosed   func(trade model.TradeRecord)
	OnExitRetry     func()
	OnDuplicateFill func()
	OnSinkError     func()
}

// Manager owns the single position slot. It consumes signals, issues orders
// through the gateway, and re-evaluates risk thresholds on every tick. All
// Step calls happen on the loop goroutine; Position() is safe to read from
// other goroutines (health endpoint, metrics).
type Manager struct {
	cfg     ManagerConfig
	gateway model.OrderGateway
	sink    model.TradeSink
	sizer   model.Sizer
	log     *slog.Logger
	hooks   Hooks

	mu  sync.RWMutex
	pos model.Position

	entryOrderID      string
	entryTS           time.Time
	pendingExitReason string

	// Terminal statuses observed per order id, for late/duplicate fill
	// detection. Bounded FIFO eviction.
	settled      map[string]model.OrderStatus
	settledOrder []string

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewManager creates a manager starting Flat.
func NewManager(cfg ManagerConfig, gw model.OrderGateway, sink model.TradeSink, sizer model.Sizer, log *slog.Logger, hooks Hooks) *Manager {
	return &Manager{
		cfg:     cfg,
		gateway: gw,
		sink:    sink,
		sizer:   sizer,
		log:     log,
		hooks:   hooks,
		pos:     model.Position{Symbol: cfg.Symbol, Status: model.StatusFlat},
		settled: make(map[string]model.OrderStatus, 64),
		sleep:   time.Sleep,
	}
}

// ResumeOpen creates a manager directly in the Open state from a previously
// open position supplied by the surrounding system (restart path). The
// position must carry its original entry price, quantity and thresholds.
func ResumeOpen(cfg ManagerConfig, gw model.OrderGateway, sink model.TradeSink, sizer model.Sizer, log *slog.Logger, hooks Hooks, pos model.Position) (*Manager, error) {
	if pos.Status != model.StatusOpen {
		return nil, errors.New("engine: resume position must be Open")
	}
	if !(pos.StopLoss < pos.EntryPrice && pos.EntryPrice < pos.TakeProfit) {
		return nil, errors.New("engine: resume position violates stopLoss < entry < takeProfit")
	}
	if pos.Quantity <= 0 {
		return nil, errors.New("engine: resume position has non-positive quantity")
	}

	m := NewManager(cfg, gw, sink, sizer, log, hooks)
	pos.Symbol = cfg.Symbol
	m.pos = pos
	m.entryTS = pos.EntryTS
	log.Info("resumed open position",
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("qty", pos.Quantity),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Float64("take_profit", pos.TakeProfit))
	return m, nil
}

// Position returns a copy of the current position.
func (m *Manager) Position() model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos
}

func (m *Manager) setPos(p model.Position) {
	m.mu.Lock()
	m.pos = p
	m.mu.Unlock()
}

// Step runs one pass of the state machine for a tick. The risk-threshold
// re-check for an Open position runs unconditionally before any signal
// handling: price can breach a threshold without the indicator-driven
// signal firing on the same tick, and this is the dominant path while a
// position is open.
func (m *Manager) Step(ctx context.Context, sig strategy.Signal, tick model.PricePoint) {
	pos := m.Position()

	if pos.Status == model.StatusOpen {
		if pos.ExitPending {
			m.exit(ctx, tick, m.pendingExitReason)
			return
		}
		if tick.Price <= pos.StopLoss {
			m.exit(ctx, tick, strategy.ReasonStopLoss)
			return
		}
		if tick.Price >= pos.TakeProfit {
			m.exit(ctx, tick, strategy.ReasonTakeProfit)
			return
		}
	}

	switch sig.Action {
	case strategy.ActionEnter:
		if pos.Status != model.StatusFlat {
			return // single position slot is busy
		}
		m.enter(ctx, tick)
	case strategy.ActionExit:
		if pos.Status != model.StatusOpen {
			return
		}
		m.exit(ctx, tick, sig.Reason)
	}
}

// enter runs the Flat → Entering → Open|Flat transition. A rejected or
// timed-out entry is not retried within the same tick; the next Enter
// signal on a later tick may resubmit.
func (m *Manager) enter(ctx context.Context, tick model.PricePoint) {
	qty, err := m.sizer.QuantityFor(ctx, tick.Price)
	if err != nil {
		m.log.Error("sizing failed, entry skipped", slog.Any("err", err))
		return
	}
	if qty <= 0 {
		m.log.Warn("sizer returned zero quantity, entry skipped", slog.Float64("price", tick.Price))
		return
	}

	pos := m.Position()
	pos.Status = model.StatusEntering
	m.setPos(pos)

	res := m.place(ctx, model.OrderRequest{
		Symbol:         m.cfg.Symbol,
		Side:           model.SideBuy,
		Quantity:       qty,
		RequestedPrice: tick.Price,
	})

	if res.Status != model.OrderFilled {
		// No partial state retained.
		m.setPos(model.Position{Symbol: m.cfg.Symbol, Status: model.StatusFlat})
		m.log.Warn("entry order failed",
			slog.String("status", string(res.Status)),
			slog.String("order_id", res.OrderID),
			slog.String("msg", res.Message))
		return
	}

	entry := res.FilledPrice
	pos = model.Position{
		Symbol:     m.cfg.Symbol,
		Status:     model.StatusOpen,
		EntryPrice: entry,
		Quantity:   res.Quantity,
		StopLoss:   entry * (1 - m.cfg.StopLossPct),
		TakeProfit: entry * (1 + m.cfg.TakeProfitPct),
		EntryTS:    tick.TS,
	}
	m.entryOrderID = res.OrderID
	m.entryTS = tick.TS
	m.setPos(pos)

	m.log.Info("position opened",
		slog.String("order_id", res.OrderID),
		slog.Float64("entry", entry),
		slog.Float64("qty", res.Quantity),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Float64("take_profit", pos.TakeProfit))
}

// exit runs Open → Exiting → Flat|Open(exit pending). Rejected or timed-out
// sells are resubmitted up to MaxExitRetries times with doubling backoff.
// When retries are exhausted the position is flagged exit-pending so the
// next tick re-attempts: risk management on an open position is never
// silently abandoned.
func (m *Manager) exit(ctx context.Context, tick model.PricePoint, reason string) {
	pos := m.Position()
	pos.Status = model.StatusExiting
	pos.ExitPending = false
	m.setPos(pos)

	backoff := m.cfg.RetryBackoff
	for attempt := 0; attempt <= m.cfg.MaxExitRetries; attempt++ {
		if attempt > 0 {
			if m.hooks.OnExitRetry != nil {
				m.hooks.OnExitRetry()
			}
			m.sleep(backoff)
			backoff *= 2
		}

		res := m.place(ctx, model.OrderRequest{
			Symbol:         m.cfg.Symbol,
			Side:           model.SideSell,
			Quantity:       pos.Quantity,
			RequestedPrice: tick.Price,
		})

		if res.Status == model.OrderFilled {
			m.settle(ctx, pos, res, tick, reason)
			return
		}

		m.log.Warn("exit order failed",
			slog.Int("attempt", attempt+1),
			slog.String("status", string(res.Status)),
			slog.String("order_id", res.OrderID),
			slog.String("msg", res.Message))
	}

	// Retries exhausted — back to Open, flagged for re-attempt next tick.
	pos.Status = model.StatusOpen
	pos.ExitPending = true
	m.pendingExitReason = reason
	m.setPos(pos)
	m.log.Error("exit retries exhausted, position flagged exit-pending",
		slog.String("reason", reason),
		slog.Int("retries", m.cfg.MaxExitRetries))
}

// settle emits the trade record for a filled exit and returns to Flat.
// Sink failures are logged and counted, never propagated: the closed trade
// is final from the decision loop's perspective.
func (m *Manager) settle(ctx context.Context, pos model.Position, res model.OrderResult, tick model.PricePoint, reason string) {
	trade := model.TradeRecord{
		Symbol:       m.cfg.Symbol,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    res.FilledPrice,
		Quantity:     pos.Quantity,
		EntryTime:    m.entryTS,
		ExitTime:     tick.TS,
		PnL:          (res.FilledPrice - pos.EntryPrice) * pos.Quantity,
		ExitReason:   reason,
		EntryOrderID: m.entryOrderID,
		ExitOrderID:  res.OrderID,
	}

	m.setPos(model.Position{Symbol: m.cfg.Symbol, Status: model.StatusFlat})
	m.entryOrderID = ""
	m.pendingExitReason = ""

	m.log.Info("position closed",
		slog.String("reason", reason),
		slog.Float64("entry", trade.EntryPrice),
		slog.Float64("exit", trade.ExitPrice),
		slog.Float64("pnl", trade.PnL))

	if m.hooks.OnTradeClosed != nil {
		m.hooks.OnTradeClosed(trade)
	}

	if m.sink != nil {
		if err := m.sink.Record(ctx, trade); err != nil {
			m.log.Error("trade sink write failed", slog.Any("err", err))
			if m.hooks.OnSinkError != nil {
				m.hooks.OnSinkError()
			}
		}
	}
}

// place submits one market order with the configured timeout and records
// its terminal status for duplicate-fill detection. The order context is
// detached from loop cancellation so an in-flight transition resolves even
// during shutdown.
func (m *Manager) place(ctx context.Context, req model.OrderRequest) model.OrderResult {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.OrderTimeout)
	defer cancel()

	res, err := m.gateway.PlaceMarketOrder(octx, req)
	if err != nil {
		status := model.OrderRejected
		if errors.Is(err, context.DeadlineExceeded) {
			// A timeout is a rejection for transition purposes; a later fill
			// report for this order id is handled as an anomaly.
			status = model.OrderTimeout
		}
		res = model.OrderResult{
			OrderID:  res.OrderID,
			Symbol:   req.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity,
			Status:   status,
			Message:  err.Error(),
		}
	}

	if res.OrderID != "" {
		m.markSettled(res.OrderID, res.Status)
	}
	if m.hooks.OnOrder != nil {
		m.hooks.OnOrder(req.Side, res.Status)
	}
	return res
}

// HandleFillReport processes an asynchronous execution report. Reports for
// orders whose transition already settled — duplicates and late fills after
// a timeout — are logged as anomalies and mutate nothing.
func (m *Manager) HandleFillReport(res model.OrderResult) {
	if prev, ok := m.settled[res.OrderID]; ok {
		m.log.Warn("duplicate or late fill report ignored",
			slog.String("order_id", res.OrderID),
			slog.String("reported", string(res.Status)),
			slog.String("settled", string(prev)))
		if m.hooks.OnDuplicateFill != nil {
			m.hooks.OnDuplicateFill()
		}
		return
	}

	m.log.Warn("fill report for unknown order ignored",
		slog.String("order_id", res.OrderID),
		slog.String("reported", string(res.Status)))
	if m.hooks.OnDuplicateFill != nil {
		m.hooks.OnDuplicateFill()
	}
}

func (m *Manager) markSettled(orderID string, status model.OrderStatus) {
	if _, ok := m.settled[orderID]; !ok {
		m.settledOrder = append(m.settledOrder, orderID)
		if len(m.settledOrder) > settledCap {
			delete(m.settled, m.settledOrder[0])
			m.settledOrder = m.settledOrder[1:]
		}
	}
	m.settled[orderID] = status
}
