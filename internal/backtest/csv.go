package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// LoadCSV reads candles from a CSV file with the columns
// timestamp,open,high,low,close,volume. A header row is skipped when the
// first field is not numeric.
func LoadCSV(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read candles %s: %w", path, err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%s: row %d has %d columns, want 6", path, i+1, len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("%s: row %d: bad timestamp %q", path, i+1, row[0])
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			vals[j], err = strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: bad value %q", path, i+1, row[j+1])
			}
		}
		bars = append(bars, domain.Bar{
			Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no candle rows", path)
	}
	return domain.SortDedupe(bars), nil
}
