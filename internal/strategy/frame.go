package strategy

import "math"

// validIndices returns the bar indices at which every given indicator series
// has a defined value. Indicator kernels mark warmup rows NaN, so this is the
// row-drop step that turns raw series into a usable frame.
func validIndices(n int, series ...[]float64) []int {
	idx := make([]int, 0, n)
outer:
	for i := 0; i < n; i++ {
		for _, s := range series {
			if math.IsNaN(s[i]) {
				continue outer
			}
		}
		idx = append(idx, i)
	}
	return idx
}

// ratchetStop advances a trailing stop: the stop only ever moves up.
func ratchetStop(prev, candidate float64) float64 {
	if prev > candidate {
		return prev
	}
	return candidate
}
