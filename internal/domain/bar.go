package domain

import (
	"sort"
	"strconv"
)

// Bar is a single OHLCV candle. Timestamp is exchange epoch milliseconds.
// Bars are immutable once fetched.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ParseRawKlines converts raw exchange kline rows ([ts, open, high, low,
// close, volume, ...] as strings) into an ascending, deduplicated bar slice.
// Malformed rows are skipped rather than failing the whole batch.
func ParseRawKlines(raw [][]string) []Bar {
	bars := make([]Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return SortDedupe(bars)
}

// SortDedupe orders bars ascending by timestamp and drops duplicate
// timestamps, keeping the first occurrence after the sort.
func SortDedupe(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp < bars[j].Timestamp
	})
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Timestamp != out[len(out)-1].Timestamp {
			out = append(out, b)
		}
	}
	return out
}

// Closes extracts the close series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
