package ledger

import (
	"context"
	"fmt"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	StatusFilled = "filled"

	PositionTypeSpot = "spot"
)

// Trade is one executed (or rejected) order as recorded in the ledger.
type Trade struct {
	ID           int64   `db:"id" json:"id"`
	Timestamp    int64   `db:"ts" json:"ts"`
	Symbol       string  `db:"symbol" json:"symbol"`
	Side         string  `db:"side" json:"side"`
	Quantity     float64 `db:"quantity" json:"quantity"`
	Price        float64 `db:"price" json:"price"`
	Signal       string  `db:"signal" json:"signal"`
	PositionType string  `db:"position_type" json:"position_type"`
	Status       string  `db:"status" json:"status"`
	DollarAmount float64 `db:"dollar_amount" json:"dollar_amount"`
	Fees         float64 `db:"fees" json:"fees"`
	OrderID      string  `db:"order_id" json:"order_id"`
}

// AddTrade appends a trade row and returns its id. Zero-valued Timestamp,
// PositionType, Status and DollarAmount fall back to now, spot, filled and
// quantity*price.
func (s *Store) AddTrade(ctx context.Context, t Trade) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if t.Timestamp == 0 {
		t.Timestamp = s.nowMillis()
	}
	if t.PositionType == "" {
		t.PositionType = PositionTypeSpot
	}
	if t.Status == "" {
		t.Status = StatusFilled
	}
	if t.DollarAmount == 0 {
		t.DollarAmount = t.Quantity * t.Price
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO trades (ts, symbol, side, quantity, price, signal, position_type, status, dollar_amount, fees, order_id)
		VALUES (:ts, :symbol, :side, :quantity, :price, :signal, :position_type, :status, :dollar_amount, :fees, :order_id)`, t)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("trade id: %w", err)
	}
	return id, nil
}

// ListTrades returns recent trades newest first. An empty symbol matches all.
func (s *Store) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var trades []Trade
	var err error
	if symbol == "" {
		err = s.db.SelectContext(ctx, &trades, `
			SELECT * FROM trades ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &trades, `
			SELECT * FROM trades WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?`, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}

// TradeMarkers returns filled trades for a symbol inside [from, to] in
// chronological order, for overlaying buy/sell markers on a price chart.
// Zero bounds are open-ended.
func (s *Store) TradeMarkers(ctx context.Context, symbol string, from, to int64) ([]Trade, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if to == 0 {
		to = s.nowMillis()
	}
	var trades []Trade
	err := s.db.SelectContext(ctx, &trades, `
		SELECT * FROM trades
		WHERE symbol = ? AND status = 'filled' AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, id ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("trade markers: %w", err)
	}
	return trades, nil
}

// NetPosition is the filled-trade aggregation for one symbol and position
// type: signed quantity and invested dollars, with the volume-weighted
// average entry price.
type NetPosition struct {
	Symbol       string  `db:"symbol" json:"symbol"`
	PositionType string  `db:"position_type" json:"position_type"`
	Quantity     float64 `db:"quantity" json:"quantity"`
	DollarAmount float64 `db:"dollar_amount" json:"dollar_amount"`
	AveragePrice float64 `json:"average_price"`
}

// NetPositions rebuilds live holdings from the trade history alone. Buys add,
// sells subtract; only filled trades count. This is the crash-recovery
// source of truth at controller startup.
func (s *Store) NetPositions(ctx context.Context) ([]NetPosition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []NetPosition
	err := s.db.SelectContext(ctx, &rows, `
		SELECT symbol, position_type,
			SUM(CASE WHEN side = 'buy' THEN quantity ELSE -quantity END) AS quantity,
			SUM(CASE WHEN side = 'buy' THEN dollar_amount ELSE -dollar_amount END) AS dollar_amount
		FROM trades
		WHERE status = 'filled'
		GROUP BY symbol, position_type`)
	if err != nil {
		return nil, fmt.Errorf("aggregate net positions: %w", err)
	}
	for i := range rows {
		if rows[i].Quantity > 0 {
			rows[i].AveragePrice = rows[i].DollarAmount / rows[i].Quantity
		}
	}
	return rows, nil
}

// NetPositionFor returns the aggregation for a single symbol's spot holdings.
// A zero-valued NetPosition means no filled trades exist for the symbol.
func (s *Store) NetPositionFor(ctx context.Context, symbol string) (NetPosition, error) {
	all, err := s.NetPositions(ctx)
	if err != nil {
		return NetPosition{}, err
	}
	for _, np := range all {
		if np.Symbol == symbol && np.PositionType == PositionTypeSpot {
			return np, nil
		}
	}
	return NetPosition{Symbol: symbol, PositionType: PositionTypeSpot}, nil
}
