package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	PositionOpen   = "open"
	PositionClosed = "closed"

	PositionTypeShort = "short"
)

// Position is a tracked holding with its mark-to-market state. Trades are
// the raw history; positions are the bookkeeping view layered on top.
type Position struct {
	ID              string  `db:"id" json:"id"`
	Symbol          string  `db:"symbol" json:"symbol"`
	PositionType    string  `db:"position_type" json:"position_type"`
	EntryPrice      float64 `db:"entry_price" json:"entry_price"`
	Quantity        float64 `db:"quantity" json:"quantity"`
	DollarAmount    float64 `db:"dollar_amount" json:"dollar_amount"`
	CurrentPrice    float64 `db:"current_price" json:"current_price"`
	UnrealizedPnL   float64 `db:"unrealized_pnl" json:"unrealized_pnl"`
	UnrealizedPnLPc float64 `db:"unrealized_pnl_percent" json:"unrealized_pnl_percent"`
	OpenTime        int64   `db:"open_time" json:"open_time"`
	CloseTime       *int64  `db:"close_time" json:"close_time,omitempty"`
	Status          string  `db:"status" json:"status"`
	EntryTradeID    *int64  `db:"entry_trade_id" json:"entry_trade_id,omitempty"`
	ExitTradeID     *int64  `db:"exit_trade_id" json:"exit_trade_id,omitempty"`
	CloseReason     string  `db:"close_reason" json:"close_reason,omitempty"`
}

// pnl computes profit for a position marked at price. Shorts profit when
// price falls.
func pnl(positionType string, entry, current, qty float64) float64 {
	if positionType == PositionTypeShort {
		return (entry - current) * qty
	}
	return (current - entry) * qty
}

func pnlPercent(pnlValue, dollarAmount float64) float64 {
	if dollarAmount <= 0 {
		return 0
	}
	return pnlValue / dollarAmount * 100
}

// CreatePosition opens a new position row and returns it with a fresh id.
func (s *Store) CreatePosition(ctx context.Context, p Position) (Position, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p.ID = uuid.NewString()
	if p.PositionType == "" {
		p.PositionType = PositionTypeSpot
	}
	if p.DollarAmount == 0 {
		p.DollarAmount = p.EntryPrice * p.Quantity
	}
	if p.OpenTime == 0 {
		p.OpenTime = s.nowMillis()
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.EntryPrice
	}
	p.Status = PositionOpen
	p.UnrealizedPnL = pnl(p.PositionType, p.EntryPrice, p.CurrentPrice, p.Quantity)
	p.UnrealizedPnLPc = pnlPercent(p.UnrealizedPnL, p.DollarAmount)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO positions (id, symbol, position_type, entry_price, quantity, dollar_amount,
			current_price, unrealized_pnl, unrealized_pnl_percent, open_time, status, entry_trade_id, close_reason)
		VALUES (:id, :symbol, :position_type, :entry_price, :quantity, :dollar_amount,
			:current_price, :unrealized_pnl, :unrealized_pnl_percent, :open_time, :status, :entry_trade_id, :close_reason)`, p)
	if err != nil {
		return Position{}, fmt.Errorf("insert position: %w", err)
	}
	return p, nil
}

// GetPosition fetches one position by id.
func (s *Store) GetPosition(ctx context.Context, id string) (Position, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var p Position
	err := s.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, ErrPositionNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

// ClosePosition seals an open position at closePrice, recording the final
// profit, the linked exit trade and an optional human-readable reason.
func (s *Store) ClosePosition(ctx context.Context, id string, closePrice float64, exitTradeID *int64, reason string) (Position, error) {
	p, err := s.GetPosition(ctx, id)
	if err != nil {
		return Position{}, err
	}
	if p.Status != PositionOpen {
		return Position{}, ErrPositionClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	closeTime := s.nowMillis()
	finalPnL := pnl(p.PositionType, p.EntryPrice, closePrice, p.Quantity)
	finalPct := pnlPercent(finalPnL, p.DollarAmount)

	_, err = s.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, close_time = ?, current_price = ?,
			unrealized_pnl = ?, unrealized_pnl_percent = ?, exit_trade_id = ?, close_reason = ?
		WHERE id = ?`,
		PositionClosed, closeTime, closePrice, finalPnL, finalPct, exitTradeID, reason, id)
	if err != nil {
		return Position{}, fmt.Errorf("close position %s: %w", id, err)
	}

	p.Status = PositionClosed
	p.CloseTime = &closeTime
	p.CurrentPrice = closePrice
	p.UnrealizedPnL = finalPnL
	p.UnrealizedPnLPc = finalPct
	p.ExitTradeID = exitTradeID
	p.CloseReason = reason
	return p, nil
}

// ListPositions returns positions filtered by status ("open", "closed", or
// "" for all), newest open_time first.
func (s *Store) ListPositions(ctx context.Context, status string) ([]Position, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var positions []Position
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &positions, `SELECT * FROM positions ORDER BY open_time DESC`)
	} else {
		err = s.db.SelectContext(ctx, &positions, `SELECT * FROM positions WHERE status = ? ORDER BY open_time DESC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

// UpdateOpenPositionPrices re-marks every open position whose symbol appears
// in prices and returns how many rows changed.
func (s *Store) UpdateOpenPositionPrices(ctx context.Context, prices map[string]float64) (int, error) {
	open, err := s.ListPositions(ctx, PositionOpen)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	updated := 0
	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}
		newPnL := pnl(p.PositionType, p.EntryPrice, price, p.Quantity)
		_, err := s.db.ExecContext(ctx, `
			UPDATE positions SET current_price = ?, unrealized_pnl = ?, unrealized_pnl_percent = ?
			WHERE id = ?`,
			price, newPnL, pnlPercent(newPnL, p.DollarAmount), p.ID)
		if err != nil {
			return updated, fmt.Errorf("update position %s price: %w", p.ID, err)
		}
		updated++
	}
	return updated, nil
}

// PositionSummary aggregates open exposure and closed performance.
type PositionSummary struct {
	OpenCount      int     `json:"open_count"`
	OpenValue      float64 `json:"open_value"`
	OpenPnL        float64 `json:"open_pnl"`
	ClosedCount    int     `json:"closed_count"`
	RealizedPnL    float64 `json:"realized_pnl"`
	WinRatePercent float64 `json:"win_rate_percent"`
	BestTradePnL   float64 `json:"best_trade_pnl"`
	WorstTradePnL  float64 `json:"worst_trade_pnl"`
}

// Summary computes the portfolio roll-up across all positions.
func (s *Store) Summary(ctx context.Context) (PositionSummary, error) {
	all, err := s.ListPositions(ctx, "")
	if err != nil {
		return PositionSummary{}, err
	}

	var sum PositionSummary
	winners := 0
	for _, p := range all {
		if p.Status == PositionOpen {
			sum.OpenCount++
			sum.OpenValue += p.CurrentPrice * p.Quantity
			sum.OpenPnL += p.UnrealizedPnL
			continue
		}
		sum.ClosedCount++
		sum.RealizedPnL += p.UnrealizedPnL
		if p.UnrealizedPnL > 0 {
			winners++
		}
		if sum.ClosedCount == 1 || p.UnrealizedPnL > sum.BestTradePnL {
			sum.BestTradePnL = p.UnrealizedPnL
		}
		if sum.ClosedCount == 1 || p.UnrealizedPnL < sum.WorstTradePnL {
			sum.WorstTradePnL = p.UnrealizedPnL
		}
	}
	if sum.ClosedCount > 0 {
		sum.WinRatePercent = float64(winners) / float64(sum.ClosedCount) * 100
	}
	return sum, nil
}
