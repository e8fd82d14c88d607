// Package exchange implements the Binance-facing edges of the bot: the
// market-data feed, the order gateway, the paper-trading gateway, and
// balance-based order sizing.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
)

// DefaultStreamURL is the Binance combined-stream WebSocket endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443"

// TickSink receives normalized price ticks. Submit must be non-blocking
// and may refuse a tick (queue full or shutting down).
type TickSink interface {
	Submit(p model.PricePoint) bool
}

// FeedConfig configures the market data feed.
type FeedConfig struct {
	URL    string // stream base URL; DefaultStreamURL when empty
	Symbol string // e.g. "DOGEUSDT"
}

// Feed consumes the Binance trade stream for one symbol and pushes
// normalized PricePoints into the sink. Disconnects trigger automatic
// reconnection with capped exponential backoff; the stream is consumed
// as-is — out-of-order or duplicate timestamps are passed through, never
// reordered.
type Feed struct {
	cfg  FeedConfig
	sink TickSink
	log  *slog.Logger

	// Optional metrics hooks
	OnReconnect func()
	OnTick      func()
}

// NewFeed creates a feed for the configured symbol.
func NewFeed(cfg FeedConfig, sink TickSink, log *slog.Logger) *Feed {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	return &Feed{cfg: cfg, sink: sink, log: log}
}

type streamEnvelope struct {
	Stream string      `json:"stream"`
	Data   streamTrade `json:"data"`
}

type streamTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // epoch milliseconds
}

// Run streams ticks until ctx is cancelled, reconnecting on any error.
func (f *Feed) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s/stream?streams=%s@trade", f.cfg.URL, strings.ToLower(f.cfg.Symbol))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consume(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("feed disconnected, reconnecting",
			slog.Any("err", err),
			slog.Duration("backoff", backoff))
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info("market data feed connected", slog.String("symbol", f.cfg.Symbol))

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	// Unblock ReadMessage on cancellation.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, err := parseTrade(message)
		if err != nil {
			f.log.Warn("malformed trade message skipped", slog.Any("err", err))
			continue
		}
		if f.OnTick != nil {
			f.OnTick()
		}
		f.sink.Submit(tick) // queue-full drops are surfaced by the sink
	}
}

// parseTrade normalizes one combined-stream trade message into a PricePoint.
func parseTrade(message []byte) (model.PricePoint, error) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return model.PricePoint{}, err
	}
	if env.Data.Symbol == "" {
		return model.PricePoint{}, fmt.Errorf("missing symbol in stream %q", env.Stream)
	}
	price, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("bad price %q: %w", env.Data.Price, err)
	}

	ts := time.Now().UTC()
	if env.Data.TradeTime > 0 {
		ts = time.Unix(0, env.Data.TradeTime*int64(time.Millisecond)).UTC()
	}

	return model.PricePoint{
		Symbol: env.Data.Symbol,
		Price:  price,
		TS:     ts,
	}, nil
}
