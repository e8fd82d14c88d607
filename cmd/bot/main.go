package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/config"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/engine"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/exchange"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/indicator"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/logger"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/metrics"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"
	"github.com/estebanc28/crypto-trading-bot-binance/internal/strategy"
	redisstore "github.com/estebanc28/crypto-trading-bot-binance/internal/store/redis"
	sqlitestore "github.com/estebanc28/crypto-trading-bot-binance/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	log := logger.Init("bot", slog.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("invalid configuration, refusing to start", "error", err)
		os.Exit(1)
	}
	log.Info("starting",
		"mode", cfg.Mode,
		"symbol", cfg.Symbol,
		"fast", cfg.Strategy.FastPeriod,
		"slow", cfg.Strategy.SlowPeriod,
		"rsi_window", cfg.Strategy.RSIWindow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.Store.RedisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	// ---- Trade journal (SQLite, the durable record) ----
	if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	journal, err := sqlitestore.NewJournal(sqlitestore.JournalConfig{DBPath: cfg.Store.SQLitePath}, log)
	if err != nil {
		log.Error("sqlite init failed", "error", err)
		os.Exit(1)
	}
	defer journal.Close()
	health.SetSQLiteOK(true)

	// ---- Redis publisher (optional, best-effort) ----
	var publisher *redisstore.Publisher
	sinks := []model.TradeSink{journal}
	if cfg.Store.RedisEnabled {
		publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}, log)
		if err != nil {
			log.Warn("redis init failed, continuing without live publishing", "error", err)
		} else {
			defer publisher.Close()
			publisher.OnCircuitChange = func(from, to redisstore.State) {
				prom.RedisCircuitState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitTrips.Inc()
				}
			}
			publisher.OnBuffer = func() { prom.RedisBuffered.Inc() }
			sinks = append(sinks, publisher)
		}
	}
	sink := multiSink(sinks)

	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Order gateway & sizer ----
	var gateway model.OrderGateway
	var sizer model.Sizer
	switch cfg.Mode {
	case "live":
		gw := exchange.NewGateway(exchange.GatewayConfig{
			BaseURL:   cfg.Exchange.APIUrl,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}, log)
		gateway = gw
		if cfg.Risk.FixedQuantity > 0 {
			sizer = model.FixedSizer(cfg.Risk.FixedQuantity)
		} else {
			sizer = exchange.NewBalanceSizer(gw, cfg.Symbol, quoteAsset(cfg.Symbol), cfg.Risk.ReserveQuote, log)
		}
	default: // paper
		gateway = exchange.NewPaperGateway(cfg.Exchange.SlippageBps, log)
		sizer = model.FixedSizer(cfg.Risk.FixedQuantity)
	}

	// ---- Position manager ----
	var lastPrice float64
	mgr := engine.NewManager(engine.ManagerConfig{
		Symbol:         cfg.Symbol,
		StopLossPct:    cfg.Risk.StopLossPct,
		TakeProfitPct:  cfg.Risk.TakeProfitPct,
		OrderTimeout:   cfg.Engine.OrderTimeout.D(),
		MaxExitRetries: cfg.Engine.MaxExitRetries,
		RetryBackoff:   cfg.Engine.RetryBackoff.D(),
	}, gateway, sink, sizer, log, engine.Hooks{
		OnOrder: func(side model.Side, status model.OrderStatus) {
			prom.OrdersTotal.WithLabelValues(string(side), string(status)).Inc()
		},
		OnTradeClosed: func(tr model.TradeRecord) {
			prom.TradesClosed.Inc()
			prom.RealizedPnL.Add(tr.PnL)
		},
		OnExitRetry:     func() { prom.ExitRetries.Inc() },
		OnDuplicateFill: func() { prom.DupFills.Inc() },
		OnSinkError:     func() { prom.SinkErrors.Inc() },
	})

	// ---- Decision loop ----
	ind := indicator.NewEngine(cfg.Strategy.FastPeriod, cfg.Strategy.SlowPeriod, cfg.Strategy.RSIWindow)
	gen := strategy.NewGenerator(cfg.Strategy.RSILow, cfg.Strategy.RSIHigh)
	loop := engine.NewLoop(engine.LoopConfig{
		QueueSize: cfg.Engine.QueueSize,
		Staleness: cfg.Engine.Staleness.D(),
	}, ind, gen, mgr, nil, log, engine.LoopHooks{
		OnTick: func(price float64) {
			lastPrice = price
			prom.TicksTotal.Inc()
			prom.LastPrice.Set(price)
			health.SetLastTickTime(time.Now())
		},
		OnDropped: func() { prom.DroppedTicks.Inc() },
		OnStale:   func() { prom.StaleTicks.Inc() },
		OnSignal: func(action strategy.Action) {
			prom.SignalsTotal.WithLabelValues(string(action)).Inc()
		},
		OnProcessed: func(pos model.Position, dur time.Duration) {
			prom.TickProcessDur.Observe(dur.Seconds())
			prom.PositionState.Set(positionStateValue(pos.Status))
			prom.UnrealizedPnL.Set(pos.UnrealizedPnL(lastPrice))
			health.SetPositionStatus(string(pos.Status))
			if publisher != nil {
				publisher.PublishPosition(ctx, pos, lastPrice)
			}
		},
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.QueueLen.Set(float64(loop.QueueLen()))
			}
		}
	}()

	// ---- Market data feed ----
	feed := exchange.NewFeed(exchange.FeedConfig{
		URL:    cfg.Exchange.WSUrl,
		Symbol: cfg.Symbol,
	}, loop, log)
	feed.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	feed.OnTick = func() { health.SetWSConnected(true) }

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("feed stopped", "error", err)
		}
	}()

	log.Info("pipeline ready",
		"queue_size", cfg.Engine.QueueSize,
		"staleness", cfg.Engine.Staleness.String(),
		"metrics", cfg.MetricsAddr)

	// ---- Wait for shutdown signal ----
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())
	cancel()

	// The loop finishes the in-flight transition before exiting; give it
	// room for one full order round trip.
	grace := cfg.Engine.OrderTimeout.D() + 5*time.Second
	select {
	case <-loopDone:
	case <-time.After(grace):
		log.Warn("decision loop did not stop within grace period", "grace", grace)
	}
	<-feedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	pos := mgr.Position()
	if pos.Status != model.StatusFlat {
		log.Warn("stopping with non-flat position",
			"status", string(pos.Status),
			"entry_price", pos.EntryPrice,
			"quantity", pos.Quantity)
	}
	if total, err := journal.TotalPnL(context.Background(), cfg.Symbol); err == nil {
		log.Info("stopped", "realized_pnl", total)
	} else {
		log.Info("stopped")
	}
}

// positionStateValue maps the lifecycle state onto the gauge scale.
func positionStateValue(s model.Status) float64 {
	switch s {
	case model.StatusEntering:
		return 1
	case model.StatusOpen:
		return 2
	case model.StatusExiting:
		return 3
	default:
		return 0
	}
}

// quoteAsset extracts the quote currency from the symbol for balance sizing.
func quoteAsset(symbol string) string {
	for _, q := range []string{"USDT", "FDUSD", "USDC", "BUSD", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(symbol, q) && symbol != q {
			return q
		}
	}
	return "USDT"
}

// multiSink fans a closed trade out to every sink. The journal comes first;
// a failure there is reported, later sinks still get the trade.
type multiSink []model.TradeSink

func (s multiSink) Record(ctx context.Context, tr model.TradeRecord) error {
	var firstErr error
	for _, sink := range s {
		if err := sink.Record(ctx, tr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s multiSink) Close() error {
	var firstErr error
	for _, sink := range s {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink: %w", err)
		}
	}
	return firstErr
}
