package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/fxexec/broker/saxo"
	"github.com/rustyeddy/fxexec/market"
)

// Config is the complete engine configuration.
type Config struct {
	Broker  BrokerConfig  `json:"broker" yaml:"broker"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Limits  LimitsConfig  `json:"limits" yaml:"limits"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// BrokerConfig selects the gateway and carries its credentials.
type BrokerConfig struct {
	Name         string         `json:"name" yaml:"name"` // "saxo" or "sim"
	Env          string         `json:"env" yaml:"env" env:"SAXO_ENV"`
	BaseURL      string         `json:"base_url,omitempty" yaml:"base_url,omitempty" env:"SAXO_BASE_URL"`
	AccountKey   string         `json:"account_key,omitempty" yaml:"account_key,omitempty" env:"SAXO_ACCOUNT_KEY"`
	ClientKey    string         `json:"client_key,omitempty" yaml:"client_key,omitempty" env:"SAXO_CLIENT_KEY"`
	ClientID     string         `json:"client_id,omitempty" yaml:"client_id,omitempty" env:"SAXO_CLIENT_ID"`
	ClientSecret string         `json:"client_secret,omitempty" yaml:"client_secret,omitempty" env:"SAXO_CLIENT_SECRET"`
	AccessToken  string         `json:"access_token,omitempty" yaml:"access_token,omitempty" env:"SAXO_ACCESS_TOKEN"`
	RefreshToken string         `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty" env:"SAXO_REFRESH_TOKEN"`
	Timeout      time.Duration  `json:"timeout" yaml:"timeout"`
	UICMap       map[string]int `json:"uic_map,omitempty" yaml:"uic_map,omitempty"`
}

// EngineConfig holds the execution switches and signal gates.
type EngineConfig struct {
	Simulation               bool          `json:"simulation" yaml:"simulation"`
	BotEnabled               bool          `json:"bot_enabled" yaml:"bot_enabled" env:"BOT_ENABLED"`
	DryRun                   bool          `json:"dry_run" yaml:"dry_run" env:"DRY_RUN"`
	AllowedPairs             []string      `json:"allowed_pairs,omitempty" yaml:"allowed_pairs,omitempty"`
	FreshnessSeconds         int           `json:"freshness_seconds" yaml:"freshness_seconds"`
	StrictMode               bool          `json:"strict_mode" yaml:"strict_mode"`
	AllowMarketWithoutPrices bool          `json:"allow_market_without_prices" yaml:"allow_market_without_prices"`
	MaxTotalUnits            int64         `json:"max_total_units" yaml:"max_total_units"`
	MaxLotRatio              float64       `json:"max_lot_ratio" yaml:"max_lot_ratio"`
	PollInterval             time.Duration `json:"poll_interval" yaml:"poll_interval"`
	SignalLimit              int           `json:"signal_limit" yaml:"signal_limit"`
	RecentWindow             time.Duration `json:"recent_window" yaml:"recent_window"`
	AccountCurrency          string        `json:"account_currency,omitempty" yaml:"account_currency,omitempty"`
	PriceRetries             int           `json:"price_retries" yaml:"price_retries"`
	PriceRetryDelay          time.Duration `json:"price_retry_delay" yaml:"price_retry_delay"`
}

// LimitsConfig holds the risk limits. Percentages are fractions.
type LimitsConfig struct {
	MaxDailyDrawdownPct     float64 `json:"max_daily_drawdown_pct" yaml:"max_daily_drawdown_pct"`
	MaxRiskPct              float64 `json:"max_risk_pct" yaml:"max_risk_pct"`
	MaxNotionalPct          float64 `json:"max_notional_pct" yaml:"max_notional_pct"`
	MaxMarginPct            float64 `json:"max_margin_pct" yaml:"max_margin_pct"`
	MaxOpenPositions        int     `json:"max_open_positions" yaml:"max_open_positions"`
	ConsecutiveFailureLimit int     `json:"consecutive_failure_limit" yaml:"consecutive_failure_limit"`
	RejectionLimit          int     `json:"rejection_limit" yaml:"rejection_limit"`
	APIErrorLimit           int     `json:"api_error_limit" yaml:"api_error_limit"`
	MonotonicCheck          bool    `json:"monotonic_check" yaml:"monotonic_check"`
	// Live price guard, in pips. Zero disables a check.
	MaxSpreadPips   float64 `json:"max_spread_pips" yaml:"max_spread_pips"`
	MaxSlippagePips float64 `json:"max_slippage_pips" yaml:"max_slippage_pips"`
}

type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path" env:"FXEXEC_DB_PATH"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format"` // "json" or "console"
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" env:"METRICS_ADDR"`
}

// Load reads an optional .env file, the config file at path (when not
// empty) over the defaults, then environment overrides, and validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the
// defaults, applies environment overrides and validates.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		if jerr := json.Unmarshal(data, c); jerr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths, JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Broker.Name {
	case "saxo", "sim":
	default:
		return fmt.Errorf("broker.name must be 'saxo' or 'sim', got %q", c.Broker.Name)
	}
	if c.Broker.Name == "saxo" && c.Broker.Env != "sim" && c.Broker.Env != "live" {
		return fmt.Errorf("broker.env must be 'sim' or 'live'")
	}
	if c.Broker.BaseURL != "" && !saxo.IsSimURL(c.Broker.BaseURL) {
		return fmt.Errorf("broker.base_url %q is not the simulation gateway", c.Broker.BaseURL)
	}
	if c.Broker.Timeout < 0 {
		return fmt.Errorf("broker.timeout must not be negative")
	}
	for name, uic := range c.Broker.UICMap {
		if uic <= 0 {
			return fmt.Errorf("broker.uic_map[%s] must be positive", name)
		}
	}

	e := c.Engine
	if e.FreshnessSeconds <= 0 {
		return fmt.Errorf("engine.freshness_seconds must be positive")
	}
	if e.MaxTotalUnits <= 0 {
		return fmt.Errorf("engine.max_total_units must be positive")
	}
	if e.MaxLotRatio <= 0 || e.MaxLotRatio > 1 {
		return fmt.Errorf("engine.max_lot_ratio must be in (0, 1]")
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if e.SignalLimit <= 0 {
		return fmt.Errorf("engine.signal_limit must be positive")
	}
	if e.RecentWindow < 0 {
		return fmt.Errorf("engine.recent_window must not be negative")
	}
	if e.PriceRetries < 0 || e.PriceRetryDelay < 0 {
		return fmt.Errorf("engine.price_retries and engine.price_retry_delay must not be negative")
	}
	for _, p := range e.AllowedPairs {
		if _, ok := market.Lookup(p); !ok {
			return fmt.Errorf("unknown instrument in engine.allowed_pairs: %s", p)
		}
	}

	l := c.Limits
	for name, v := range map[string]float64{
		"max_daily_drawdown_pct": l.MaxDailyDrawdownPct,
		"max_risk_pct":           l.MaxRiskPct,
		"max_notional_pct":       l.MaxNotionalPct,
		"max_margin_pct":         l.MaxMarginPct,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("limits.%s must be in (0, 1]", name)
		}
	}
	for name, v := range map[string]int{
		"max_open_positions":        l.MaxOpenPositions,
		"consecutive_failure_limit": l.ConsecutiveFailureLimit,
		"rejection_limit":           l.RejectionLimit,
		"api_error_limit":           l.APIErrorLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("limits.%s must be positive", name)
		}
	}

	if l.MaxSpreadPips < 0 || l.MaxSlippagePips < 0 {
		return fmt.Errorf("limits.max_spread_pips and limits.max_slippage_pips must not be negative")
	}

	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}
	return nil
}

// IsSimulation reports whether the configured broker is a simulated
// environment. Live trading is never enabled by this flag alone, and a
// base_url override off the simulation gateway makes it false.
func (c *Config) IsSimulation() bool {
	if !c.Engine.Simulation {
		return false
	}
	if c.Broker.Name == "sim" {
		return true
	}
	if c.Broker.BaseURL != "" && !saxo.IsSimURL(c.Broker.BaseURL) {
		return false
	}
	return c.Broker.Env == "sim"
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Name:    "saxo",
			Env:     "sim",
			Timeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Simulation:       true,
			FreshnessSeconds: 180,
			StrictMode:       true,
			MaxTotalUnits:    500000,
			MaxLotRatio:      1.0,
			PollInterval:     15 * time.Second,
			SignalLimit:      500,
			RecentWindow:     600 * time.Second,
			PriceRetries:     2,
			PriceRetryDelay:  300 * time.Millisecond,
		},
		Limits: LimitsConfig{
			MaxDailyDrawdownPct:     0.05,
			MaxRiskPct:              0.01,
			MaxNotionalPct:          0.10,
			MaxMarginPct:            0.03,
			MaxOpenPositions:        3,
			ConsecutiveFailureLimit: 3,
			RejectionLimit:          3,
			APIErrorLimit:           3,
			MaxSpreadPips:           8,
			MaxSlippagePips:         5,
		},
		Journal: JournalConfig{
			DBPath: "./fxexec.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
