package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Preset is a saved parameter patch for one (strategy, symbol) pair. Only
// the overridden keys are stored; defaults fill the rest at load time.
type Preset struct {
	ID        int64  `db:"id" json:"id"`
	Strategy  string `db:"strategy" json:"strategy"`
	Symbol    string `db:"symbol" json:"symbol"`
	Params    string `db:"params" json:"params"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// Overrides decodes the stored parameter patch.
func (p Preset) Overrides() (map[string]any, error) {
	out := map[string]any{}
	if err := json.Unmarshal([]byte(p.Params), &out); err != nil {
		return nil, fmt.Errorf("decode preset %s/%s: %w", p.Strategy, p.Symbol, err)
	}
	return out, nil
}

// SavePreset upserts the parameter patch for (strategy, symbol).
func (s *Store) SavePreset(ctx context.Context, strategy, symbol string, overrides map[string]any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	paramsJSON, err := json.Marshal(orEmptyAny(overrides))
	if err != nil {
		return fmt.Errorf("encode preset %s/%s: %w", strategy, symbol, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategy_presets (strategy, symbol, params, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy, symbol) DO UPDATE SET params = excluded.params, updated_at = excluded.updated_at`,
		strategy, symbol, string(paramsJSON), s.nowMillis())
	if err != nil {
		return fmt.Errorf("save preset %s/%s: %w", strategy, symbol, err)
	}
	return nil
}

// GetPreset fetches the patch for (strategy, symbol). ErrPresetNotFound when
// none is stored.
func (s *Store) GetPreset(ctx context.Context, strategy, symbol string) (Preset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var p Preset
	err := s.db.GetContext(ctx, &p, `
		SELECT * FROM strategy_presets WHERE strategy = ? AND symbol = ?`, strategy, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return Preset{}, ErrPresetNotFound
	}
	if err != nil {
		return Preset{}, fmt.Errorf("get preset %s/%s: %w", strategy, symbol, err)
	}
	return p, nil
}

// ListPresets returns every stored preset.
func (s *Store) ListPresets(ctx context.Context) ([]Preset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var presets []Preset
	err := s.db.SelectContext(ctx, &presets, `
		SELECT * FROM strategy_presets ORDER BY strategy, symbol`)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	return presets, nil
}

// DeletePreset removes the patch for (strategy, symbol); deleting a missing
// preset is not an error.
func (s *Store) DeletePreset(ctx context.Context, strategy, symbol string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM strategy_presets WHERE strategy = ? AND symbol = ?`, strategy, symbol)
	if err != nil {
		return fmt.Errorf("delete preset %s/%s: %w", strategy, symbol, err)
	}
	return nil
}
