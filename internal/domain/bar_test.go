package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawKlinesSkipsMalformedRows(t *testing.T) {
	raw := [][]string{
		{"120000", "101", "102", "100", "101.5", "10"},
		{"notatime", "1", "2", "3", "4", "5"},
		{"60000", "100", "101", "99", "100.5", "12"},
		{"180000", "x", "102", "100", "101", "9"},
		{"60000"},
	}
	bars := ParseRawKlines(raw)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(60000), bars[0].Timestamp)
	assert.Equal(t, int64(120000), bars[1].Timestamp)
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 12.0, bars[0].Volume)
}

func TestSortDedupeKeepsFirstPerTimestamp(t *testing.T) {
	bars := SortDedupe([]Bar{
		{Timestamp: 2, Close: 20},
		{Timestamp: 1, Close: 10},
		{Timestamp: 2, Close: 25},
		{Timestamp: 3, Close: 30},
	})
	require.Len(t, bars, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{bars[0].Timestamp, bars[1].Timestamp, bars[2].Timestamp})
	assert.Equal(t, 20.0, bars[1].Close)
}

func TestClosesAndVolumes(t *testing.T) {
	bars := []Bar{{Close: 1, Volume: 10}, {Close: 2, Volume: 20}}
	assert.Equal(t, []float64{1, 2}, Closes(bars))
	assert.Equal(t, []float64{10, 20}, Volumes(bars))
}
