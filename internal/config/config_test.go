package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Broker.Venue)
	assert.Equal(t, "regime_trend", cfg.Strategy.Kind)
	assert.Equal(t, 10_000.0, cfg.Broker.PaperCash)
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/test-ledger.db
broker:
  venue: bybit
  testnet: true
  sizing:
    trade_budget: 250
strategy:
  kind: mean_reversion
  params:
    rsi_period: 7
`), 0o644))
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-ledger.db", cfg.DBPath)
	assert.True(t, cfg.Broker.Testnet)
	assert.Equal(t, "key", cfg.Broker.APIKey)
	assert.Equal(t, 250.0, cfg.Broker.Sizing.TradeBudget)
	assert.Equal(t, "mean_reversion", cfg.Strategy.Kind)
	assert.Equal(t, 7, cfg.Strategy.Overrides["rsi_period"])
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := Default()
	cfg.Broker.Venue = "kraken"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Strategy.Kind = "momentum"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Broker.Venue = "bybit"
	assert.Error(t, cfg.Validate(), "bybit without credentials must fail")

	cfg = Default()
	cfg.DBPath = ""
	assert.Error(t, cfg.Validate())
}
