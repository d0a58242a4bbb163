package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is one point-in-time portfolio valuation. Details carries the
// per-symbol breakdown as JSON.
type Snapshot struct {
	ID             int64   `db:"id" json:"id"`
	Timestamp      int64   `db:"ts" json:"ts"`
	TotalValue     float64 `db:"total_value" json:"total_value"`
	CashValue      float64 `db:"cash_value" json:"cash_value"`
	PositionsValue float64 `db:"positions_value" json:"positions_value"`
	UnrealizedPnL  float64 `db:"unrealized_pnl" json:"unrealized_pnl"`
	Details        string  `db:"details" json:"details"`
}

// AddSnapshot records a portfolio valuation row.
func (s *Store) AddSnapshot(ctx context.Context, snap Snapshot, details map[string]any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if snap.Timestamp == 0 {
		snap.Timestamp = s.nowMillis()
	}
	detailsJSON, err := json.Marshal(orEmptyAny(details))
	if err != nil {
		return 0, fmt.Errorf("encode snapshot details: %w", err)
	}
	snap.Details = string(detailsJSON)

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO portfolio_snapshots (ts, total_value, cash_value, positions_value, unrealized_pnl, details)
		VALUES (:ts, :total_value, :cash_value, :positions_value, :unrealized_pnl, :details)`, snap)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}
	return id, nil
}

// ListSnapshots returns recent snapshots newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT * FROM portfolio_snapshots ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// PruneSnapshots deletes snapshots older than the retention window and
// returns the number removed. Retention applies to snapshots only; the
// decision log is never pruned.
func (s *Store) PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cutoff := s.now().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots count: %w", err)
	}
	return n, nil
}
