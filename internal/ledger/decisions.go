package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// DecisionRecord is one row of the decision log: exactly one per strategy
// cycle, including cycles that failed before an engine could run. The log is
// append-only and never pruned.
type DecisionRecord struct {
	ID           int64   `db:"id" json:"id"`
	Timestamp    int64   `db:"ts" json:"ts"`
	Symbol       string  `db:"symbol" json:"symbol"`
	Strategy     string  `db:"strategy" json:"strategy"`
	Signal       string  `db:"signal" json:"signal"`
	Reason       string  `db:"reason" json:"reason"`
	ClosePrice   float64 `db:"close_price" json:"close_price"`
	TrailingStop float64 `db:"trailing_stop" json:"trailing_stop"`
	InPosition   bool    `db:"in_position" json:"in_position"`
	Indicators   string  `db:"indicators" json:"indicators"`
	Params       string  `db:"params" json:"params"`
}

// DecisionIndicators decodes the stored indicator snapshot.
func (r DecisionRecord) DecisionIndicators() (map[string]float64, error) {
	out := map[string]float64{}
	if r.Indicators == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Indicators), &out); err != nil {
		return nil, fmt.Errorf("decode decision indicators: %w", err)
	}
	return out, nil
}

// AddDecision appends one decision row. Indicators and params are marshalled
// to JSON; nil maps become empty objects.
func (s *Store) AddDecision(ctx context.Context, rec DecisionRecord, indicators map[string]float64, params map[string]any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if rec.Timestamp == 0 {
		rec.Timestamp = s.nowMillis()
	}
	indJSON, err := json.Marshal(orEmptyFloats(indicators))
	if err != nil {
		return 0, fmt.Errorf("encode decision indicators: %w", err)
	}
	paramsJSON, err := json.Marshal(orEmptyAny(params))
	if err != nil {
		return 0, fmt.Errorf("encode decision params: %w", err)
	}
	rec.Indicators = string(indJSON)
	rec.Params = string(paramsJSON)

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO decision_log (ts, symbol, strategy, signal, reason, close_price, trailing_stop, in_position, indicators, params)
		VALUES (:ts, :symbol, :strategy, :signal, :reason, :close_price, :trailing_stop, :in_position, :indicators, :params)`, rec)
	if err != nil {
		return 0, fmt.Errorf("insert decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("decision id: %w", err)
	}
	return id, nil
}

// ListDecisions returns recent decisions newest first, optionally filtered
// by strategy and symbol (empty matches all).
func (s *Store) ListDecisions(ctx context.Context, strategy, symbol string, limit int) ([]DecisionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM decision_log WHERE 1=1`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var recs []DecisionRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return recs, nil
}

// CountDecisions reports the total number of logged cycles for a strategy
// and symbol (empty matches all).
func (s *Store) CountDecisions(ctx context.Context, strategy, symbol string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM decision_log WHERE 1=1`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return n, nil
}

// SignalStat is the cycle count for one (signal, reason) pair.
type SignalStat struct {
	Signal string `db:"signal" json:"signal"`
	Reason string `db:"reason" json:"reason"`
	Count  int64  `db:"n" json:"count"`
}

// SignalStats summarizes how a strategy has decided over its whole logged
// history, most frequent first.
func (s *Store) SignalStats(ctx context.Context, strategy, symbol string) ([]SignalStat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats []SignalStat
	err := s.db.SelectContext(ctx, &stats, `
		SELECT signal, reason, COUNT(*) AS n
		FROM decision_log
		WHERE strategy = ? AND symbol = ?
		GROUP BY signal, reason
		ORDER BY n DESC`, strategy, symbol)
	if err != nil {
		return nil, fmt.Errorf("signal stats: %w", err)
	}
	return stats, nil
}

func orEmptyFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
