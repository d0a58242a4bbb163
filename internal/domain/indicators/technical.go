package indicators

import (
	"math"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Series kernels for OHLCV bars. All functions return a slice aligned with
// the input; rows where the indicator is undefined (insufficient history)
// carry math.NaN() so that frame builders can drop them.

// EMA computes an exponential moving average with the span convention
// (alpha = 2/(period+1)), seeded from the first value. Defined for every row.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1]*(1-alpha) + values[i]*alpha
	}
	return out
}

// SMA computes a simple rolling mean; undefined before period-1 samples.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RollingStd computes the rolling sample standard deviation (ddof=1);
// undefined before period-1 samples.
func RollingStd(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// TrueRange computes max(high-low, |high-prevClose|, |low-prevClose|).
// The first row has no previous close and is NaN.
func TrueRange(bars []domain.Bar) []float64 {
	out := nanSlice(len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR is the rolling mean of the true range. Undefined until `period` true
// ranges have accumulated (one bar later than a plain SMA because the first
// true range itself is undefined).
func ATR(bars []domain.Bar, period int) []float64 {
	tr := TrueRange(bars)
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) <= period {
		return out
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < len(bars); i++ {
		sum += tr[i] - tr[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

// WilderRSI computes the Relative Strength Index with Wilder smoothing:
// gains and losses are averaged with the exponential recursion
// avg = avg*(1-alpha) + x*alpha, alpha = 1/period, seeded from the first
// price change. Undefined until `period` changes have been observed. The
// result is always within [0, 100]; 100 when the average loss is zero.
func WilderRSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = avgGain*(1-alpha) + gain*alpha
			avgLoss = avgLoss*(1-alpha) + loss*alpha
		}
		if i < period {
			continue
		}
		if avgLoss == 0 {
			out[i] = 100.0
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100.0 - (100.0 / (1.0 + rs))
	}
	return out
}

// PriorHigh is the rolling maximum of the previous `period` highs, excluding
// the current bar. Undefined until `period` prior bars exist.
func PriorHigh(bars []domain.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 {
		return out
	}
	for i := period; i < len(bars); i++ {
		high := bars[i-period].High
		for j := i - period + 1; j < i; j++ {
			if bars[j].High > high {
				high = bars[j].High
			}
		}
		out[i] = high
	}
	return out
}

// BollingerBands returns the rolling mid band (SMA) and upper/lower bands at
// mid +/- k standard deviations.
func BollingerBands(values []float64, period int, k float64) (upper, mid, lower []float64) {
	mid = SMA(values, period)
	std := RollingStd(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	for i := range values {
		if math.IsNaN(mid[i]) || math.IsNaN(std[i]) {
			continue
		}
		upper[i] = mid[i] + k*std[i]
		lower[i] = mid[i] - k*std[i]
	}
	return upper, mid, lower
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
