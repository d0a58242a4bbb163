package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/strategy"
)

func syntheticBars(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: int64(i) * 60_000,
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10,
		}
	}
	return bars
}

func rampCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func fastRegimeParams() strategy.RegimeTrendParams {
	p := strategy.DefaultRegimeTrendParams()
	p.EMAFastPeriod = 3
	p.EMASlowPeriod = 8
	p.ATRPeriod = 5
	p.Cooldown = 2
	return p
}

func TestRunUptrendEntersAndProfits(t *testing.T) {
	// Long ramp up, then a collapse that trips the trailing stop.
	closes := rampCloses(80, 100, 1)
	closes = append(closes, 150, 140, 130, 120)
	bars := syntheticBars(closes)

	res, err := Run(strategy.KindRegimeTrend, fastRegimeParams(), bars, DefaultConfig())
	require.NoError(t, err)

	require.NotEmpty(t, res.Fills)
	assert.Equal(t, "buy", res.Fills[0].Side)
	assert.GreaterOrEqual(t, res.Rounds, 1)
	assert.Greater(t, res.FinalEquity, 1000.0, "riding the ramp should profit")
	assert.Len(t, res.EquityCurve, len(bars))
	assert.GreaterOrEqual(t, res.MaxDrawdownPct, 0.0)
}

func TestRunFlatMarketNeverTrades(t *testing.T) {
	bars := syntheticBars(rampCloses(60, 100, 0))

	res, err := Run(strategy.KindRegimeTrend, fastRegimeParams(), bars, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.InDelta(t, 1000, res.FinalEquity, 1e-9)
	assert.Zero(t, res.MaxDrawdownPct)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	_, err := Run(strategy.KindRegimeTrend, fastRegimeParams(), nil, DefaultConfig())
	assert.Error(t, err)

	_, err = Run(strategy.KindRegimeTrend, fastRegimeParams(), syntheticBars([]float64{100}), Config{})
	assert.Error(t, err)
}

func TestLoadCSVSkipsHeaderAndSorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"timestamp,open,high,low,close,volume\n"+
			"120000,101,102,100,101.5,10\n"+
			"60000,100,101,99,100.5,12\n"), 0o644))

	bars, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(60000), bars[0].Timestamp)
	assert.Equal(t, 101.5, bars[1].Close)
}

func TestLoadCSVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("60000,x,101,99,100.5,12\n"), 0o644))
	_, err := LoadCSV(path)
	assert.Error(t, err)
}
