// Package config loads and validates the YAML configuration for the
// backtesting laboratory. Configuration errors are fatal at startup,
// before any simulation begins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for backlab.
type Config struct {
	Storage    Storage                 `yaml:"storage"`
	Alpaca     Alpaca                  `yaml:"alpaca"`
	Logging    Logging                 `yaml:"logging"`
	Backtest   Backtest                `yaml:"backtest"`
	Templates  map[string]RiskTemplate `yaml:"risk_templates"`
	RiskName   string                  `yaml:"risk_template"`
	Strategies []StrategyConfig        `yaml:"strategies"`
	Fetch      Fetch                   `yaml:"fetch"`
}

// Storage holds paths for data and run output persistence.
type Storage struct {
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
// Only fetch mode needs valid credentials; backtests run against
// already-fetched data.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest defines the simulation window and execution parameters.
type Backtest struct {
	Symbols        []string `yaml:"symbols"`
	Market         string   `yaml:"market"`
	StartDate      string   `yaml:"start_date"`
	EndDate        string   `yaml:"end_date"`
	InitialCapital float64  `yaml:"initial_capital"`
	CommissionBps  float64  `yaml:"commission_bps"`
	MinCommission  float64  `yaml:"min_commission"`
	SlippageBps    float64  `yaml:"slippage_bps"`
	Workers        int      `yaml:"workers"`
}

// RiskTemplate is a named, pre-configured bundle of risk parameters.
// All *_pct fields are fractions of equity (0.10 = 10%).
type RiskTemplate struct {
	MaxPositionPct   float64 `yaml:"max_position_pct"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
	MaxDailyLossPct  float64 `yaml:"max_daily_loss_pct"`
	Bypass           bool    `yaml:"bypass"`
}

// StrategyConfig selects a registered strategy and its parameters.
type StrategyConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// Fetch controls the historical data fetching phase.
type Fetch struct {
	StartDate       string `yaml:"start_date"`
	Workers         int    `yaml:"workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// ---------------------------------------------------------------------------
// Built-in risk templates
// ---------------------------------------------------------------------------

// BuiltinTemplates are the named risk bundles available when the config
// file does not define its own.
var BuiltinTemplates = map[string]RiskTemplate{
	"conservative": {
		MaxPositionPct:   0.05,
		MaxOpenPositions: 3,
		StopLossPct:      0.02,
		TakeProfitPct:    0.04,
		MaxDrawdownPct:   0.10,
		MaxDailyLossPct:  0.01,
	},
	"moderate": {
		MaxPositionPct:   0.10,
		MaxOpenPositions: 5,
		StopLossPct:      0.05,
		TakeProfitPct:    0.10,
		MaxDrawdownPct:   0.20,
		MaxDailyLossPct:  0.02,
	},
	"aggressive": {
		MaxPositionPct:   0.25,
		MaxOpenPositions: 10,
		StopLossPct:      0.08,
		TakeProfitPct:    0.20,
		MaxDrawdownPct:   0.30,
		MaxDailyLossPct:  0.05,
	},
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Storage.OutputDir = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BACKTEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.Workers = n
		}
	}

	// Standard Alpaca env vars take highest priority, matching the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = "output"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Backtest.Market == "" {
		cfg.Backtest.Market = "us"
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 100000
	}
	if cfg.Backtest.Workers == 0 {
		cfg.Backtest.Workers = 1
	}
	if cfg.RiskName == "" {
		cfg.RiskName = "moderate"
	}
	if cfg.Templates == nil {
		cfg.Templates = map[string]RiskTemplate{}
	}
	for name, tpl := range BuiltinTemplates {
		if _, ok := cfg.Templates[name]; !ok {
			cfg.Templates[name] = tpl
		}
	}
	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = 4
	}
	if cfg.Fetch.RateLimitPerMin == 0 {
		cfg.Fetch.RateLimitPerMin = 200
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 3
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the configuration for out-of-range or inconsistent
// values. Any error returned here aborts startup.
func (c *Config) Validate() error {
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}
	if c.Backtest.CommissionBps < 0 || c.Backtest.SlippageBps < 0 || c.Backtest.MinCommission < 0 {
		return fmt.Errorf("backtest cost parameters must not be negative")
	}
	if c.Backtest.Workers < 1 {
		return fmt.Errorf("backtest.workers must be at least 1, got %d", c.Backtest.Workers)
	}

	if c.Backtest.StartDate != "" || c.Backtest.EndDate != "" {
		start, err := time.Parse("2006-01-02", c.Backtest.StartDate)
		if err != nil {
			return fmt.Errorf("backtest.start_date: %w", err)
		}
		end, err := time.Parse("2006-01-02", c.Backtest.EndDate)
		if err != nil {
			return fmt.Errorf("backtest.end_date: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("backtest.end_date %s is before start_date %s", c.Backtest.EndDate, c.Backtest.StartDate)
		}
	}

	tpl, ok := c.Templates[c.RiskName]
	if !ok {
		return fmt.Errorf("risk_template %q is not defined", c.RiskName)
	}
	if err := validateTemplate(c.RiskName, tpl); err != nil {
		return err
	}
	for name, t := range c.Templates {
		if name == c.RiskName {
			continue
		}
		if err := validateTemplate(name, t); err != nil {
			return err
		}
	}
	return nil
}

func validateTemplate(name string, t RiskTemplate) error {
	checkFraction := func(field string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("risk_templates.%s.%s must be within [0, 1], got %v", name, field, v)
		}
		return nil
	}
	if t.MaxPositionPct <= 0 || t.MaxPositionPct > 1 {
		return fmt.Errorf("risk_templates.%s.max_position_pct must be within (0, 1], got %v", name, t.MaxPositionPct)
	}
	if err := checkFraction("stop_loss_pct", t.StopLossPct); err != nil {
		return err
	}
	if err := checkFraction("take_profit_pct", t.TakeProfitPct); err != nil {
		return err
	}
	if err := checkFraction("max_drawdown_pct", t.MaxDrawdownPct); err != nil {
		return err
	}
	if err := checkFraction("max_daily_loss_pct", t.MaxDailyLossPct); err != nil {
		return err
	}
	if t.MaxOpenPositions < 0 {
		return fmt.Errorf("risk_templates.%s.max_open_positions must not be negative, got %d", name, t.MaxOpenPositions)
	}
	return nil
}

// Risk returns the active risk template.
func (c *Config) Risk() RiskTemplate {
	return c.Templates[c.RiskName]
}

// DateRange parses the configured backtest window.
func (c *Config) DateRange() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", c.Backtest.StartDate)
	if err != nil {
		return
	}
	end, err = time.Parse("2006-01-02", c.Backtest.EndDate)
	return
}
