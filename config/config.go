package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/perptrader/broker"
	"github.com/rustyeddy/perptrader/capital"
	"github.com/rustyeddy/perptrader/logging"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/risk"
)

// Environment overrides. Secrets only ever come from here.
const (
	EnvVenueAddress = "PERPTRADER_VENUE_ADDRESS"
	EnvVenueSecret  = "PERPTRADER_VENUE_SECRET"
	EnvRedisAddr    = "PERPTRADER_REDIS_ADDR"
	EnvPostgresDSN  = "PERPTRADER_POSTGRES_DSN"
)

// Config is the complete engine configuration
type Config struct {
	Account AccountConfig  `json:"account" yaml:"account"`
	Trading TradingConfig  `json:"trading" yaml:"trading"`
	Risk    RiskConfig     `json:"risk" yaml:"risk"`
	Venue   VenueConfig    `json:"venue" yaml:"venue"`
	Signals SignalsConfig  `json:"signals" yaml:"signals"`
	Prices  PricesConfig   `json:"prices" yaml:"prices"`
	Journal JournalConfig  `json:"journal" yaml:"journal"`
	Logging logging.Config `json:"logging" yaml:"logging"`
	Server  ServerConfig   `json:"server" yaml:"server"`
}

type AccountConfig struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	Currency       string  `json:"currency" yaml:"currency"`
}

type TradingConfig struct {
	Mode              string   `json:"mode" yaml:"mode"`         // PAPER or LIVE
	Interval          string   `json:"interval" yaml:"interval"` // e.g. "1m"
	Symbols           []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	DefaultVolatility float64  `json:"default_volatility" yaml:"default_volatility"`
	VolatilityWindow  int      `json:"volatility_window" yaml:"volatility_window"` // marks; 0 disables the estimator
	MaxSizeRetries    int      `json:"max_size_retries" yaml:"max_size_retries"`
	ShutdownTimeout   string   `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// IntervalDuration parses Interval.
func (t TradingConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("trading.interval", t.Interval, time.Minute)
}

func (t TradingConfig) ShutdownDuration() (time.Duration, error) {
	return parseDuration("trading.shutdown_timeout", t.ShutdownTimeout, 30*time.Second)
}

type RiskConfig struct {
	MaxPositionPerSymbol float64 `json:"max_position_per_symbol" yaml:"max_position_per_symbol"`
	MaxTotalPosition     float64 `json:"max_total_position" yaml:"max_total_position"`
	DefaultLeverage      int     `json:"default_leverage" yaml:"default_leverage"`
	MaxLeverage          int     `json:"max_leverage" yaml:"max_leverage"` // 0 means unbounded
	StopLossPct          float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct        float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	MaxDrawdown          float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MaxDailyLoss         float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
}

func (r RiskConfig) Policy() risk.Policy {
	return risk.Policy{
		MaxPositionPerSymbol: r.MaxPositionPerSymbol,
		MaxTotalPosition:     r.MaxTotalPosition,
		DefaultLeverage:      r.DefaultLeverage,
		MaxLeverage:          r.MaxLeverage,
		StopLossPct:          r.StopLossPct,
		TakeProfitPct:        r.TakeProfitPct,
	}
}

func (r RiskConfig) Limits() capital.Limits {
	return capital.Limits{MaxDrawdown: r.MaxDrawdown, MaxDailyLoss: r.MaxDailyLoss}
}

type VenueConfig struct {
	BaseURL string  `json:"base_url" yaml:"base_url"`
	Address string  `json:"address,omitempty" yaml:"address,omitempty"`
	Secret  string  `json:"-" yaml:"-"`
	Timeout string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RPS     float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst   int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

func (v VenueConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("venue.timeout", v.Timeout, 10*time.Second)
}

type SignalsConfig struct {
	Type string `json:"type" yaml:"type"` // none, file or ws
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

type PricesConfig struct {
	Type     string             `json:"type" yaml:"type"` // static or http
	BaseURL  string             `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	RPS      float64            `json:"rps,omitempty" yaml:"rps,omitempty"`
	Timeout  string             `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Static   map[string]float64 `json:"static,omitempty" yaml:"static,omitempty"`
	Cache    string             `json:"cache,omitempty" yaml:"cache,omitempty"` // none, memory or redis
	CacheTTL string             `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
}

func (p PricesConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("prices.timeout", p.Timeout, 5*time.Second)
}

func (p PricesConfig) CacheTTLDuration() (time.Duration, error) {
	return parseDuration("prices.cache_ttl", p.CacheTTL, 5*time.Second)
}

type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // none, csv, sqlite or postgres
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN        string `json:"-" yaml:"-"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadEnv reads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv copies the environment overrides into c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvVenueAddress); v != "" {
		c.Venue.Address = v
	}
	if v := os.Getenv(EnvVenueSecret); v != "" {
		c.Venue.Secret = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Prices.RedisAddr = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Journal.DSN = v
	}
}

// LoadFromFile loads configuration from a file, YAML first then JSON,
// applies the environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise. Secrets are
// never written.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.InitialCapital <= 0 {
		return fmt.Errorf("account.initial_capital must be positive")
	}

	if _, err := broker.ParseMode(c.Trading.Mode); err != nil {
		return fmt.Errorf("trading.mode: %w", err)
	}
	if _, err := c.Trading.IntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Trading.ShutdownDuration(); err != nil {
		return err
	}
	for _, s := range c.Trading.Symbols {
		if !market.IsAllowed(s) {
			return fmt.Errorf("trading.symbols: %s is not tradable", s)
		}
	}
	if c.Trading.DefaultVolatility < 0 {
		return fmt.Errorf("trading.default_volatility must not be negative")
	}
	if c.Trading.VolatilityWindow < 0 || c.Trading.VolatilityWindow == 1 {
		return fmt.Errorf("trading.volatility_window must be 0 or at least 2")
	}
	if c.Trading.MaxSizeRetries < 0 {
		return fmt.Errorf("trading.max_size_retries must not be negative")
	}

	if err := c.Risk.Policy().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("risk.max_drawdown must be between 0 and 1")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss >= 1 {
		return fmt.Errorf("risk.max_daily_loss must be between 0 and 1")
	}

	if _, err := c.Venue.TimeoutDuration(); err != nil {
		return err
	}

	switch c.Signals.Type {
	case "", "none":
	case "file":
		if c.Signals.Path == "" {
			return fmt.Errorf("signals.path required for file signals")
		}
	case "ws":
		if c.Signals.URL == "" {
			return fmt.Errorf("signals.url required for ws signals")
		}
	default:
		return fmt.Errorf("signals.type must be 'none', 'file' or 'ws'")
	}

	switch c.Prices.Type {
	case "static":
	case "http":
		if c.Prices.BaseURL == "" {
			return fmt.Errorf("prices.base_url required for http prices")
		}
	default:
		return fmt.Errorf("prices.type must be 'static' or 'http'")
	}
	for s, p := range c.Prices.Static {
		if p <= 0 {
			return fmt.Errorf("prices.static: %s price must be positive", s)
		}
	}
	switch c.Prices.Cache {
	case "", "none", "memory":
	case "redis":
		if c.Prices.RedisAddr == "" {
			return fmt.Errorf("prices.redis_addr required for redis cache")
		}
	default:
		return fmt.Errorf("prices.cache must be 'none', 'memory' or 'redis'")
	}
	if _, err := c.Prices.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Prices.CacheTTLDuration(); err != nil {
		return err
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal postgres type requires %s", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv', 'sqlite' or 'postgres'")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr required when the server is enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	p := risk.DefaultPolicy()
	return &Config{
		Account: AccountConfig{
			InitialCapital: 10000,
			Currency:       "USD",
		},
		Trading: TradingConfig{
			Mode:             string(broker.ModePaper),
			Interval:         "1m",
			Symbols:          append([]string(nil), market.AllowedSymbols...),
			VolatilityWindow: 20,
			MaxSizeRetries:   2,
			ShutdownTimeout:  "30s",
		},
		Risk: RiskConfig{
			MaxPositionPerSymbol: p.MaxPositionPerSymbol,
			MaxTotalPosition:     p.MaxTotalPosition,
			DefaultLeverage:      p.DefaultLeverage,
			MaxLeverage:          p.MaxLeverage,
			StopLossPct:          p.StopLossPct,
			TakeProfitPct:        p.TakeProfitPct,
			MaxDrawdown:          0.20,
			MaxDailyLoss:         0.10,
		},
		Venue: VenueConfig{
			Timeout: "10s",
			RPS:     5,
			Burst:   1,
		},
		Signals: SignalsConfig{Type: "none"},
		Prices: PricesConfig{
			Type:     "static",
			Timeout:  "5s",
			Cache:    "memory",
			CacheTTL: "5s",
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
		Logging: logging.Config{Level: "info", Format: "auto"},
		Server:  ServerConfig{Enabled: true, Addr: "127.0.0.1:9090"},
	}
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
