package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	TicksTotal   prometheus.Counter
	DroppedTicks prometheus.Counter
	StaleTicks   prometheus.Counter
	WSReconnects prometheus.Counter

	SignalsTotal prometheus.CounterVec // labels: action
	OrdersTotal  prometheus.CounterVec // labels: side, status
	ExitRetries  prometheus.Counter
	TradesClosed prometheus.Counter
	DupFills     prometheus.Counter
	SinkErrors   prometheus.Counter

	PositionState prometheus.Gauge // 0=flat, 1=entering, 2=open, 3=exiting
	LastPrice     prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	QueueLen      prometheus.Gauge

	RedisCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitTrips prometheus.Counter
	RedisBuffered     prometheus.Counter

	TickProcessDur prometheus.Histogram
	OrderPlaceDur  prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Total ticks accepted into the queue",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_dropped_ticks_total",
			Help: "Ticks dropped because the queue was full",
		}),
		StaleTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_stale_ticks_total",
			Help: "Ticks too old to act on (indicators updated, no transition)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		SignalsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Signals produced by the strategy (by action)",
		}, []string{"action"}),
		OrdersTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Order attempts (by side and terminal status)",
		}, []string{"side", "status"}),
		ExitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_exit_retries_total",
			Help: "Exit order retry attempts",
		}),
		TradesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_trades_closed_total",
			Help: "Round-trip trades recorded",
		}),
		DupFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_duplicate_fills_total",
			Help: "Fill reports for already-settled or unknown orders",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_sink_errors_total",
			Help: "Trade sink write failures",
		}),
		PositionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_position_state",
			Help: "Position lifecycle state (0=flat, 1=entering, 2=open, 3=exiting)",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_last_price",
			Help: "Last trade price seen on the feed",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_unrealized_pnl",
			Help: "Mark-to-market PnL of the open position",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_realized_pnl",
			Help: "Cumulative realized PnL this run",
		}),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_queue_len",
			Help: "Current tick queue occupancy",
		}),
		RedisCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_redis_circuit_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_redis_circuit_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_redis_buffered_writes_total",
			Help: "Trades buffered locally while the Redis circuit was open",
		}),
		TickProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_tick_process_duration_seconds",
			Help:    "Per-tick processing latency (indicators + signal + transition)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01, 0.1, 1},
		}),
		OrderPlaceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_order_place_duration_seconds",
			Help:    "Order placement latency including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.StaleTicks,
		m.WSReconnects,
		&m.SignalsTotal,
		&m.OrdersTotal,
		m.ExitRetries,
		m.TradesClosed,
		m.DupFills,
		m.SinkErrors,
		m.PositionState,
		m.LastPrice,
		m.UnrealizedPnL,
		m.RealizedPnL,
		m.QueueLen,
		m.RedisCircuitState,
		m.RedisCircuitTrips,
		m.RedisBuffered,
		m.TickProcessDur,
		m.OrderPlaceDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	PositionStatus string    `json:"position_status"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisEnabled bool
}

// NewHealthStatus returns a default health status. redisEnabled controls
// whether Redis connectivity counts toward overall health.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:      time.Now(),
		RedisConnected: !redisEnabled,
		redisEnabled:   redisEnabled,
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPositionStatus(s string) {
	h.mu.Lock()
	h.PositionStatus = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisOK := h.RedisConnected || !h.redisEnabled
	if !h.WSConnected || !redisOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.WSConnected {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		PositionStatus  string  `json:"position_status"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		PositionStatus:  h.PositionStatus,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
