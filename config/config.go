package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s"
// (plain integers are taken as nanoseconds, matching time.Duration).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// D converts to the standard library type.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds all bot configuration. Parameters come from a YAML file;
// exchange credentials come from the environment (optionally via .env).
type Config struct {
	Mode   string `yaml:"mode"`   // "paper" or "live"
	Symbol string `yaml:"symbol"` // e.g. "BTCUSDT"

	Strategy struct {
		FastPeriod int     `yaml:"fast_period"`
		SlowPeriod int     `yaml:"slow_period"`
		RSIWindow  int     `yaml:"rsi_window"`
		RSILow     float64 `yaml:"rsi_low"`
		RSIHigh    float64 `yaml:"rsi_high"`
	} `yaml:"strategy"`

	Risk struct {
		StopLossPct   float64 `yaml:"stop_loss_pct"`   // e.g. 0.01
		TakeProfitPct float64 `yaml:"take_profit_pct"` // e.g. 0.02
		FixedQuantity float64 `yaml:"fixed_quantity"`  // 0 = size from balance
		ReserveQuote  float64 `yaml:"reserve_quote"`   // quote balance kept aside
	} `yaml:"risk"`

	Engine struct {
		QueueSize      int      `yaml:"queue_size"`
		Staleness      Duration `yaml:"staleness"`
		OrderTimeout   Duration `yaml:"order_timeout"`
		MaxExitRetries int      `yaml:"max_exit_retries"`
		RetryBackoff   Duration `yaml:"retry_backoff"`
	} `yaml:"engine"`

	Exchange struct {
		WSUrl       string  `yaml:"ws_url"`
		APIUrl      string  `yaml:"api_url"`
		SlippageBps float64 `yaml:"slippage_bps"` // paper mode fill slippage
	} `yaml:"exchange"`

	Store struct {
		SQLitePath   string `yaml:"sqlite_path"`
		RedisEnabled bool   `yaml:"redis_enabled"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisDB      int    `yaml:"redis_db"`
	} `yaml:"store"`

	MetricsAddr string `yaml:"metrics_addr"`

	// Credentials, from env only.
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
	RedisPassword string `yaml:"-"`
}

// Load reads the YAML config at path, pulls credentials from the environment
// (a .env file beside the binary is honored when present), applies defaults,
// and validates. The bot must not start on a half-sane config, so callers
// treat any error here as fatal.
func Load(path string) (*Config, error) {
	// Missing .env is fine, real deployments use actual env vars.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.APISecret = os.Getenv("BINANCE_API_SECRET")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 1024
	}
	if c.Engine.Staleness == 0 {
		c.Engine.Staleness = Duration(5 * time.Second)
	}
	if c.Engine.OrderTimeout == 0 {
		c.Engine.OrderTimeout = Duration(5 * time.Second)
	}
	if c.Engine.MaxExitRetries == 0 {
		c.Engine.MaxExitRetries = 3
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if c.Exchange.WSUrl == "" {
		c.Exchange.WSUrl = "wss://stream.binance.com:9443"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/trades.db"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

// Validate checks every parameter the engine depends on. The process refuses
// to start on any violation rather than trade with a broken setup.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Mode != "paper" && c.Mode != "live" {
		add("mode must be \"paper\" or \"live\", got %q", c.Mode)
	}
	if strings.TrimSpace(c.Symbol) == "" {
		add("symbol is required")
	}

	s := c.Strategy
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 {
		add("ema periods must be positive (fast=%d slow=%d)", s.FastPeriod, s.SlowPeriod)
	}
	if s.FastPeriod >= s.SlowPeriod {
		add("fast_period (%d) must be shorter than slow_period (%d)", s.FastPeriod, s.SlowPeriod)
	}
	if s.RSIWindow < 2 {
		add("rsi_window must be at least 2, got %d", s.RSIWindow)
	}
	if s.RSILow >= s.RSIHigh {
		add("rsi_low (%v) must be below rsi_high (%v)", s.RSILow, s.RSIHigh)
	}
	if s.RSILow < 0 || s.RSIHigh > 100 {
		add("rsi bounds must lie in [0,100], got [%v,%v]", s.RSILow, s.RSIHigh)
	}

	r := c.Risk
	if r.StopLossPct <= 0 {
		add("stop_loss_pct must be positive, got %v", r.StopLossPct)
	}
	if r.TakeProfitPct <= 0 {
		add("take_profit_pct must be positive, got %v", r.TakeProfitPct)
	}
	if r.StopLossPct >= 1 {
		add("stop_loss_pct must be a fraction below 1, got %v", r.StopLossPct)
	}
	if r.StopLossPct > 0 && r.TakeProfitPct > 0 && r.StopLossPct >= r.TakeProfitPct {
		add("stop_loss_pct (%v) must be below take_profit_pct (%v)", r.StopLossPct, r.TakeProfitPct)
	}
	if r.FixedQuantity < 0 {
		add("fixed_quantity must not be negative, got %v", r.FixedQuantity)
	}

	e := c.Engine
	if e.QueueSize <= 0 {
		add("queue_size must be positive, got %d", e.QueueSize)
	}
	if e.Staleness <= 0 {
		add("staleness must be positive, got %v", e.Staleness)
	}
	if e.OrderTimeout <= 0 {
		add("order_timeout must be positive, got %v", e.OrderTimeout)
	}
	if e.MaxExitRetries < 0 {
		add("max_exit_retries must not be negative, got %d", e.MaxExitRetries)
	}
	if e.RetryBackoff <= 0 {
		add("retry_backoff must be positive, got %v", e.RetryBackoff)
	}

	if c.Mode == "live" {
		if c.APIKey == "" || c.APISecret == "" {
			add("live mode requires BINANCE_API_KEY and BINANCE_API_SECRET in the environment")
		}
	}
	if c.Mode == "paper" && r.FixedQuantity == 0 {
		add("paper mode has no balance to size from, set fixed_quantity")
	}
	if c.Store.RedisEnabled && strings.TrimSpace(c.Store.RedisAddr) == "" {
		add("redis enabled but redis_addr is empty")
	}

	return errors.Join(errs...)
}
