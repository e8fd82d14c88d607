package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: the journal is the durable record, the stream only
	// feeds live consumers.
	tradeStreamMaxLen = 10000
	positionTTL       = 30 * time.Minute

	defaultMaxBuffered = 10000
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Circuit breaker tuning. Zero values pick defaults (5 failures, 10s).
	MaxFailures  int
	ResetTimeout time.Duration

	// MaxBuffered caps trades held while the circuit is open (default 10000).
	MaxBuffered int
}

// Publisher pushes closed trades onto a Redis stream and keeps the latest
// position snapshot in a key, so dashboards can follow the bot live. All
// writes go through a circuit breaker; trades that arrive while the circuit
// is open are buffered and replayed when it closes. Implements model.TradeSink.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *slog.Logger

	mu      sync.Mutex
	pending []model.TradeRecord
	maxBuf  int

	// Callbacks (optional, for metrics).
	OnBuffer        func()
	OnFlush         func(count int)
	OnCircuitChange func(from, to State)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// NewPublisher connects to Redis and pings the server.
func NewPublisher(cfg PublisherConfig, log *slog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}
	maxBuf := cfg.MaxBuffered
	if maxBuf <= 0 {
		maxBuf = defaultMaxBuffered
	}

	p := &Publisher{
		client:  client,
		cb:      NewCircuitBreaker(maxFailures, resetTimeout),
		log:     log,
		pending: make([]model.TradeRecord, 0, 64),
		maxBuf:  maxBuf,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Warn("redis circuit state change", "from", from.String(), "to", to.String())
		if p.OnCircuitChange != nil {
			p.OnCircuitChange(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}

	log.Info("redis publisher connected", "addr", cfg.Addr)
	return p, nil
}

// Record publishes a closed trade to the trades:<symbol> stream. When the
// circuit is open the trade is buffered locally and replayed later; the
// caller never blocks on a dead Redis.
func (p *Publisher) Record(ctx context.Context, tr model.TradeRecord) error {
	err := p.cb.Execute(func() error {
		return p.xaddTrade(ctx, tr)
	})
	if err == ErrCircuitOpen {
		p.buffer(tr)
		return nil
	}
	return err
}

func (p *Publisher) xaddTrade(ctx context.Context, tr model.TradeRecord) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	return p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream:       "trades:" + tr.Symbol,
		MaxLenApprox: tradeStreamMaxLen,
		Values:       map[string]interface{}{"trade": string(data)},
	}).Err()
}

// positionSnapshot is the JSON shape stored under position:<symbol>.
type positionSnapshot struct {
	Symbol        string    `json:"symbol"`
	Status        string    `json:"status"`
	EntryPrice    float64   `json:"entryPrice,omitempty"`
	Quantity      float64   `json:"quantity,omitempty"`
	StopLoss      float64   `json:"stopLoss,omitempty"`
	TakeProfit    float64   `json:"takeProfit,omitempty"`
	LastPrice     float64   `json:"lastPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	TS            time.Time `json:"ts"`
}

// PublishPosition stores the current position under position:<symbol> with a
// TTL, so a stale key disappears when the bot stops. Best-effort: failures
// are logged, never surfaced.
func (p *Publisher) PublishPosition(ctx context.Context, pos model.Position, lastPrice float64) {
	snap := positionSnapshot{
		Symbol:        pos.Symbol,
		Status:        string(pos.Status),
		EntryPrice:    pos.EntryPrice,
		Quantity:      pos.Quantity,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		LastPrice:     lastPrice,
		UnrealizedPnL: pos.UnrealizedPnL(lastPrice),
		TS:            time.Now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("marshal position snapshot", "error", err)
		return
	}
	err = p.cb.Execute(func() error {
		return p.client.Set(ctx, "position:"+pos.Symbol, string(data), positionTTL).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		p.log.Warn("publish position failed", "error", err)
	}
}

func (p *Publisher) buffer(tr model.TradeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.maxBuf {
		p.pending = p.pending[1:] // drop oldest, the journal still has it
	}
	p.pending = append(p.pending, tr)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays trades buffered during circuit-open. Replay failures are
// logged and dropped; SQLite remains the durable record.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make([]model.TradeRecord, 0, 64)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	for _, tr := range toFlush {
		if err := p.xaddTrade(ctx, tr); err != nil {
			p.log.Warn("replay buffered trade failed", "error", err, "remaining", len(toFlush)-flushed)
			break
		}
		flushed++
	}
	p.log.Info("flushed buffered trades", "count", flushed)
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// Pending returns the number of trades buffered while the circuit is open.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
