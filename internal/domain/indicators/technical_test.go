package indicators

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/domain"
)

func makeBars(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Timestamp: int64(i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return bars
}

func TestEMASeedAndConvergence(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10}
	out := EMA(values, 3)
	for i, v := range out {
		assert.Equal(t, 10.0, v, "constant input stays constant at %d", i)
	}

	out = EMA([]float64{0, 10}, 3)
	assert.Equal(t, 0.0, out[0], "seeded from the first value")
	assert.InDelta(t, 5.0, out[1], 1e-9) // alpha = 2/4
}

func TestSMAWarmup(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4}, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
}

func TestRollingStdSampleVariance(t *testing.T) {
	out := RollingStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	// Sample stddev (ddof=1) of the classic example set.
	assert.InDelta(t, 2.138, out[7], 1e-3)
	assert.True(t, math.IsNaN(out[6]))
}

func TestTrueRangeAndATR(t *testing.T) {
	bars := makeBars([]float64{100, 100, 100, 100, 100, 100})
	tr := TrueRange(bars)
	assert.True(t, math.IsNaN(tr[0]))
	for i := 1; i < len(tr); i++ {
		assert.InDelta(t, 2.0, tr[i], 1e-9) // high-low dominates
	}

	atr := ATR(bars, 3)
	assert.True(t, math.IsNaN(atr[2]))
	assert.InDelta(t, 2.0, atr[3], 1e-9)
	assert.InDelta(t, 2.0, atr[5], 1e-9)
}

func TestATRReactsToGaps(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 120}
	bars := makeBars(closes)
	atr := ATR(bars, 3)
	// Last TR: max(121-119, |121-100|, |119-100|) = 21.
	assert.InDelta(t, (2+2+21)/3.0, atr[4], 1e-9)
}

func TestWilderRSIBounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	values := make([]float64, 300)
	values[0] = 100
	for i := 1; i < len(values); i++ {
		values[i] = values[i-1] + r.Float64()*4 - 2
	}

	out := WilderRSI(values, 14)
	for i, v := range out {
		if math.IsNaN(v) {
			assert.Less(t, i, 14, "only warmup rows may be undefined")
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestWilderRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}
	require.Equal(t, 100.0, WilderRSI(up, 14)[19], "all gains pins RSI at 100")
	assert.InDelta(t, 0.0, WilderRSI(down, 14)[19], 1e-9, "all losses pins RSI at 0")
}

func TestPriorHighExcludesCurrentBar(t *testing.T) {
	bars := makeBars([]float64{100, 101, 102, 103, 200})
	out := PriorHigh(bars, 3)
	assert.True(t, math.IsNaN(out[2]))
	// At index 4 the window is bars 1..3 (highs 102..104); the 201 high of
	// the current bar must not leak in.
	assert.InDelta(t, 104.0, out[4], 1e-9)
	assert.InDelta(t, 103.0, out[3], 1e-9)
}

func TestBollingerBandsBracketTheMid(t *testing.T) {
	values := []float64{100, 102, 98, 101, 99, 103, 97, 100}
	upper, mid, lower := BollingerBands(values, 5, 2)
	for i := 4; i < len(values); i++ {
		require.False(t, math.IsNaN(mid[i]))
		assert.Greater(t, upper[i], mid[i])
		assert.Less(t, lower[i], mid[i])
		assert.InDelta(t, mid[i]-lower[i], upper[i]-mid[i], 1e-9)
	}
	assert.True(t, math.IsNaN(upper[3]))
}
