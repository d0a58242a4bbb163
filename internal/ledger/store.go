// Package ledger is the embedded SQLite persistence layer: executed trades,
// tracked positions, the per-cycle decision log, portfolio snapshots and
// strategy parameter presets.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	ErrPositionNotFound = errors.New("ledger: position not found")
	ErrPositionClosed   = errors.New("ledger: position already closed")
	ErrPresetNotFound   = errors.New("ledger: preset not found")
)

const defaultTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	signal TEXT NOT NULL DEFAULT '',
	position_type TEXT NOT NULL DEFAULT 'spot',
	status TEXT NOT NULL DEFAULT 'filled',
	dollar_amount REAL NOT NULL DEFAULT 0,
	fees REAL NOT NULL DEFAULT 0,
	order_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts DESC);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	position_type TEXT NOT NULL DEFAULT 'spot',
	entry_price REAL NOT NULL,
	quantity REAL NOT NULL,
	dollar_amount REAL NOT NULL,
	current_price REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	unrealized_pnl_percent REAL NOT NULL DEFAULT 0,
	open_time INTEGER NOT NULL,
	close_time INTEGER,
	status TEXT NOT NULL DEFAULT 'open',
	entry_trade_id INTEGER,
	exit_trade_id INTEGER,
	close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	signal TEXT NOT NULL,
	reason TEXT NOT NULL,
	close_price REAL NOT NULL DEFAULT 0,
	trailing_stop REAL NOT NULL DEFAULT 0,
	in_position INTEGER NOT NULL DEFAULT 0,
	indicators TEXT NOT NULL DEFAULT '{}',
	params TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_decision_log_ts ON decision_log(ts DESC);
CREATE INDEX IF NOT EXISTS idx_decision_log_strategy ON decision_log(strategy, symbol);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	total_value REAL NOT NULL,
	cash_value REAL NOT NULL DEFAULT 0,
	positions_value REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON portfolio_snapshots(ts DESC);

CREATE TABLE IF NOT EXISTS strategy_presets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	params TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(strategy, symbol)
);
`

// Store wraps a single SQLite file. SQLite tolerates one writer, so the pool
// is pinned to a single connection and shared by every caller.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

// Open creates or opens the ledger database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Store{db: db, timeout: defaultTimeout, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }
