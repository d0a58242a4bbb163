package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/ledger"
	"github.com/coinpilot/coinpilot/internal/strategy"
)

func TestNewWiresPaperApp(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "ledger.db")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Broker)
	assert.NotNil(t, a.Positions)
	assert.NotNil(t, a.Snapshots)
	require.NotNil(t, a.Controller)
	assert.Equal(t, "regime_trend", a.Controller.Status().Strategy)
}

func TestResolveParamsPrecedence(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	// Preset bumps two values; the config file overrides one of them.
	require.NoError(t, store.SavePreset(ctx, "regime_trend", "ETHUSDT", map[string]any{
		"ema_fast_period": 21,
		"cooldown_bars":   5,
	}))

	params, err := resolveParams(ctx, store, strategy.KindRegimeTrend, map[string]any{
		"symbol":          "ETHUSDT",
		"ema_fast_period": 34,
	})
	require.NoError(t, err)

	p := params.(strategy.RegimeTrendParams)
	assert.Equal(t, "ETHUSDT", p.SymbolName)
	assert.Equal(t, 34, p.EMAFastPeriod, "config overrides beat the preset")
	assert.Equal(t, 5, p.Cooldown, "preset values survive where config is silent")
}

func TestResolveParamsRejectsUnknownKeys(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = resolveParams(context.Background(), store, strategy.KindRegimeTrend, map[string]any{"bogus": 1})
	assert.Error(t, err)
}
