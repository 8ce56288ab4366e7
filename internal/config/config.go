package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pullback/internal/broker/kis"
	apperrors "pullback/internal/errors"
	"pullback/internal/logging"
	"pullback/internal/market"
	"pullback/internal/notify"
	"pullback/internal/pattern"
	"pullback/internal/predictor"
	"pullback/internal/provider"
	"pullback/internal/signal"
)

// Config represents the application configuration
type Config struct {
	KIS       KISConfig            `yaml:"kis"`
	Pattern   pattern.Config       `yaml:"pattern"`
	Gate      signal.Config        `yaml:"gate"`
	Scanner   ScannerConfig        `yaml:"scanner"`
	Market    MarketConfig         `yaml:"market"`
	Log       logging.Config       `yaml:"log"`
	Store     StoreConfig          `yaml:"store"`
	Redis     provider.RedisConfig `yaml:"redis"`
	NATS      notify.Config        `yaml:"nats"`
	Web       WebConfig            `yaml:"web"`
	Backtest  BacktestConfig       `yaml:"backtest"`
	Predictor predictor.Config     `yaml:"predictor"`
}

// KISConfig holds the KIS credentials and client options
type KISConfig struct {
	kis.Credentials `yaml:",inline"`
	kis.Options     `yaml:",inline"`
}

// ScannerConfig holds scanner settings
type ScannerConfig struct {
	Workers  int           `yaml:"workers"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval int           `yaml:"interval"` // minutes per bar
	Universe string        `yaml:"universe"`
	DataDir  string        `yaml:"data_dir"` // CSV sessions, used when KIS is not configured
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// MarketConfig selects the venue and adds special sessions
type MarketConfig struct {
	Code        string                    `yaml:"code"`
	SpecialDays map[string]market.Session `yaml:"special_days"`
}

// StoreConfig holds the database paths
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	DuckDBPath string `yaml:"duckdb_path"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables auth
}

// BacktestConfig holds trade simulation settings
type BacktestConfig struct {
	TakeProfit     float64 `yaml:"take_profit"` // percent
	StopLoss       float64 `yaml:"stop_loss"`   // percent, positive
	RiskExits      bool    `yaml:"risk_exits"`
	InitialCapital float64 `yaml:"initial_capital"`
	PositionPct    float64 `yaml:"position_pct"` // percent of capital per trade
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		KIS: KISConfig{
			Credentials: kis.Credentials{
				AppKey:    os.Getenv("KIS_APP_KEY"),
				AppSecret: os.Getenv("KIS_APP_SECRET"),
				AccountNo: os.Getenv("KIS_ACCOUNT_NO"),
			},
			Options: kis.DefaultOptions(),
		},
		Pattern: pattern.DefaultConfig(),
		Gate:    signal.DefaultConfig(),
		Scanner: ScannerConfig{
			Workers:  5,
			Timeout:  2 * time.Minute,
			Interval: 3,
			Universe: "kospi-top",
			DataDir:  "data",
			CacheTTL: 30 * time.Second,
		},
		Market: MarketConfig{Code: "KRX"},
		Log:    logging.DefaultConfig(),
		Store: StoreConfig{
			SQLitePath: "data/patterns.db",
			DuckDBPath: "data/features.duckdb",
		},
		Redis: provider.DefaultRedisConfig(),
		NATS:  notify.DefaultConfig(),
		Web: WebConfig{
			Port:      8080,
			JWTSecret: os.Getenv("PULLBACK_JWT_SECRET"),
		},
		Backtest: BacktestConfig{
			TakeProfit:     3.0,
			StopLoss:       2.5,
			RiskExits:      true,
			InitialCapital: 10_000_000,
			PositionPct:    20,
		},
		Predictor: predictor.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and endpoints with environment variables if set
func (c *Config) applyEnv() {
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		c.KIS.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		c.KIS.AppSecret = v
	}
	if v := os.Getenv("KIS_ACCOUNT_NO"); v != "" {
		c.KIS.AccountNo = v
	}
	if v := os.Getenv("PULLBACK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("PULLBACK_NATS_URL"); v != "" {
		c.NATS.URL = v
		c.Predictor.URL = v
	}
	if v := os.Getenv("PULLBACK_JWT_SECRET"); v != "" {
		c.Web.JWTSecret = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", apperrors.ErrConfigInvalid)
	}
	if c.Scanner.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1 minute", apperrors.ErrConfigInvalid)
	}
	if _, err := market.Get(c.Market.Code); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if err := c.Pattern.Validate(); err != nil {
		return fmt.Errorf("%w: pattern: %v", apperrors.ErrConfigInvalid, err)
	}
	if err := c.ToGateConfig().Validate(); err != nil {
		return fmt.Errorf("%w: gate: %v", apperrors.ErrConfigInvalid, err)
	}
	if err := c.Predictor.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if c.Backtest.TakeProfit <= 0 || c.Backtest.StopLoss <= 0 {
		return fmt.Errorf("%w: backtest take_profit and stop_loss must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("%w: invalid web port %d", apperrors.ErrConfigInvalid, c.Web.Port)
	}
	return nil
}

// HasKIS reports whether KIS credentials are configured
func (c *Config) HasKIS() bool {
	return c.KIS.AppKey != "" && c.KIS.AppSecret != ""
}

// ToPatternConfig returns the pattern thresholds
func (c *Config) ToPatternConfig() pattern.Config {
	return c.Pattern
}

// ToGateConfig returns the gate thresholds on the configured venue
func (c *Config) ToGateConfig() signal.Config {
	g := c.Gate
	if c.Market.Code != "" {
		g.Market = c.Market.Code
	}
	return g
}

// Hours returns the venue hours including configured special days
func (c *Config) Hours() *market.Hours {
	h, err := market.Get(c.Market.Code)
	if err != nil {
		h = market.KRX()
	}
	if len(c.Market.SpecialDays) > 0 {
		h = h.WithSpecialDays(c.Market.SpecialDays)
	}
	return h
}
