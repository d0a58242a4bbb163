// Package config loads the application configuration: YAML file, defaults,
// and an environment overlay for credentials.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coinpilot/coinpilot/internal/broker"
)

// Config is the full application configuration.
type Config struct {
	DBPath      string          `yaml:"db_path"`
	MetricsAddr string          `yaml:"metrics_addr"`
	LogLevel    string          `yaml:"log_level"`
	Broker      BrokerConfig    `yaml:"broker"`
	Strategy    StrategyConfig  `yaml:"strategy"`
	Snapshots   SnapshotConfig  `yaml:"snapshots"`
	AutoClose   AutoCloseConfig `yaml:"auto_close"`
}

// BrokerConfig selects and configures the venue. Credentials come from the
// environment, never from the YAML file.
type BrokerConfig struct {
	Venue     string              `yaml:"venue"` // "bybit" or "paper"
	Testnet   bool                `yaml:"testnet"`
	PaperCash float64             `yaml:"paper_cash"`
	Sizing    broker.SizingConfig `yaml:"sizing"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// StrategyConfig names the active engine and its parameter overrides.
type StrategyConfig struct {
	Kind      string         `yaml:"kind"`
	Overrides map[string]any `yaml:"params"`
}

// SnapshotConfig drives the portfolio snapshot loop.
type SnapshotConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	RetentionDays   int `yaml:"retention_days"`
}

// AutoCloseConfig configures the periodic auto-close sweep. Zero disables a
// rule; all zeros disable the sweep.
type AutoCloseConfig struct {
	MaxLossPct   float64 `yaml:"max_loss_pct"`
	MinProfitPct float64 `yaml:"min_profit_pct"`
	MaxDaysOpen  float64 `yaml:"max_days_open"`
}

// Default returns the baseline configuration: paper trading against Bybit
// public data.
func Default() Config {
	return Config{
		DBPath:      "coinpilot.db",
		MetricsAddr: ":9109",
		LogLevel:    "info",
		Broker: BrokerConfig{
			Venue:     "paper",
			PaperCash: 10_000,
			Sizing:    broker.DefaultSizing(),
		},
		Strategy: StrategyConfig{Kind: "regime_trend"},
		Snapshots: SnapshotConfig{
			IntervalMinutes: 60,
			RetentionDays:   90,
		},
	}
}

// Load reads YAML from path (missing file means defaults), then overlays
// credentials from the environment. A .env file is honored when present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("COINPILOT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the app cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	switch c.Broker.Venue {
	case "paper":
	case "bybit":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return fmt.Errorf("config: bybit venue requires BYBIT_API_KEY and BYBIT_API_SECRET")
		}
	default:
		return fmt.Errorf("config: unknown broker venue %q", c.Broker.Venue)
	}
	switch c.Strategy.Kind {
	case "regime_trend", "breakout_volume", "mean_reversion", "dual_timeframe":
	default:
		return fmt.Errorf("config: unknown strategy kind %q", c.Strategy.Kind)
	}
	if c.Snapshots.IntervalMinutes < 0 || c.Snapshots.RetentionDays < 0 {
		return fmt.Errorf("config: snapshot interval and retention must not be negative")
	}
	return nil
}
