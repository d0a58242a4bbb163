// Package service holds the orchestration layer between the ledger and the
// broker: manual position management, criteria-based auto-close and
// portfolio snapshots.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/ledger"
)

// PositionService manages positions outside the strategy loop: manual
// opens/closes and the auto-close sweep.
type PositionService struct {
	store  *ledger.Store
	broker broker.Broker
	log    zerolog.Logger
	now    func() time.Time
}

func NewPositionService(store *ledger.Store, b broker.Broker, log zerolog.Logger) *PositionService {
	return &PositionService{
		store:  store,
		broker: b,
		log:    log.With().Str("component", "positions").Logger(),
		now:    time.Now,
	}
}

// OpenPosition records a manual entry: a filled buy trade plus the linked
// position row.
func (s *PositionService) OpenPosition(ctx context.Context, symbol string, quantity, price float64) (ledger.Position, error) {
	if quantity <= 0 || price <= 0 {
		return ledger.Position{}, fmt.Errorf("open position %s: quantity and price must be positive", symbol)
	}
	tradeID, err := s.store.AddTrade(ctx, ledger.Trade{
		Symbol:   symbol,
		Side:     ledger.SideBuy,
		Quantity: quantity,
		Price:    price,
		Signal:   "position_open",
	})
	if err != nil {
		return ledger.Position{}, err
	}
	pos, err := s.store.CreatePosition(ctx, ledger.Position{
		Symbol:       symbol,
		EntryPrice:   price,
		Quantity:     quantity,
		EntryTradeID: &tradeID,
	})
	if err != nil {
		return ledger.Position{}, err
	}
	s.log.Info().Str("symbol", symbol).Float64("qty", quantity).Float64("price", price).
		Str("position_id", pos.ID).Msg("position opened")
	return pos, nil
}

// ClosePosition seals a position. A zero closePrice falls back to the live
// quote, then to the last marked price.
func (s *PositionService) ClosePosition(ctx context.Context, id string, closePrice float64, reason string) (ledger.Position, error) {
	pos, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return ledger.Position{}, err
	}
	if pos.Status != ledger.PositionOpen {
		return ledger.Position{}, ledger.ErrPositionClosed
	}
	if closePrice <= 0 {
		closePrice = s.broker.GetCurrentPrice(ctx, pos.Symbol)
	}
	if closePrice <= 0 {
		closePrice = pos.CurrentPrice
	}
	tradeID, err := s.store.AddTrade(ctx, ledger.Trade{
		Symbol:   pos.Symbol,
		Side:     ledger.SideSell,
		Quantity: pos.Quantity,
		Price:    closePrice,
		Signal:   "position_close",
	})
	if err != nil {
		return ledger.Position{}, err
	}
	closed, err := s.store.ClosePosition(ctx, id, closePrice, &tradeID, reason)
	if err != nil {
		return ledger.Position{}, err
	}
	s.log.Info().Str("symbol", closed.Symbol).Str("position_id", id).
		Float64("pnl", closed.UnrealizedPnL).Str("reason", reason).Msg("position closed")
	return closed, nil
}

// PositionView is a position with wall-clock derived fields.
type PositionView struct {
	ledger.Position
	DaysOpen float64 `json:"days_open"`
}

func (s *PositionService) view(p ledger.Position) PositionView {
	end := s.now().UnixMilli()
	if p.CloseTime != nil {
		end = *p.CloseTime
	}
	days := float64(end-p.OpenTime) / float64(24*time.Hour/time.Millisecond)
	if days < 0 {
		days = 0
	}
	return PositionView{Position: p, DaysOpen: days}
}

// ListOpen returns open positions with days-open derived.
func (s *PositionService) ListOpen(ctx context.Context) ([]PositionView, error) {
	return s.list(ctx, ledger.PositionOpen)
}

// ListClosed returns closed positions with days-held derived.
func (s *PositionService) ListClosed(ctx context.Context) ([]PositionView, error) {
	return s.list(ctx, ledger.PositionClosed)
}

func (s *PositionService) list(ctx context.Context, status string) ([]PositionView, error) {
	positions, err := s.store.ListPositions(ctx, status)
	if err != nil {
		return nil, err
	}
	views := make([]PositionView, len(positions))
	for i, p := range positions {
		views[i] = s.view(p)
	}
	return views, nil
}

// Summary is the ledger roll-up.
func (s *PositionService) Summary(ctx context.Context) (ledger.PositionSummary, error) {
	return s.store.Summary(ctx)
}

// RefreshPrices re-marks every open position from live quotes. Symbols with
// no quote keep their previous mark.
func (s *PositionService) RefreshPrices(ctx context.Context) (int, error) {
	open, err := s.store.ListPositions(ctx, ledger.PositionOpen)
	if err != nil {
		return 0, err
	}
	prices := make(map[string]float64)
	for _, p := range open {
		if _, seen := prices[p.Symbol]; seen {
			continue
		}
		if quote := s.broker.GetCurrentPrice(ctx, p.Symbol); quote > 0 {
			prices[p.Symbol] = quote
		}
	}
	return s.store.UpdateOpenPositionPrices(ctx, prices)
}

// AutoCloseCriteria configures the auto-close sweep. Zero values disable a
// rule. MaxLossPct may be given as either sign; its magnitude is the loss
// threshold.
type AutoCloseCriteria struct {
	MaxLossPct   float64 `yaml:"max_loss_pct"`
	MinProfitPct float64 `yaml:"min_profit_pct"`
	MaxDaysOpen  float64 `yaml:"max_days_open"`
}

// AutoClose refreshes marks then closes every open position matching a
// criterion. Rules are checked in order and the first match names the
// close reason.
func (s *PositionService) AutoClose(ctx context.Context, criteria AutoCloseCriteria) ([]ledger.Position, error) {
	if _, err := s.RefreshPrices(ctx); err != nil {
		return nil, err
	}
	open, err := s.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	var closed []ledger.Position
	for _, p := range open {
		reason := ""
		switch {
		case criteria.MaxLossPct != 0 && p.UnrealizedPnLPc <= -math.Abs(criteria.MaxLossPct):
			reason = fmt.Sprintf("Stop loss: %.2f%%", p.UnrealizedPnLPc)
		case criteria.MinProfitPct > 0 && p.UnrealizedPnLPc >= criteria.MinProfitPct:
			reason = fmt.Sprintf("Take profit: %.2f%%", p.UnrealizedPnLPc)
		case criteria.MaxDaysOpen > 0 && p.DaysOpen >= criteria.MaxDaysOpen:
			reason = fmt.Sprintf("Max days reached: %.0f days", p.DaysOpen)
		default:
			continue
		}
		sealed, err := s.ClosePosition(ctx, p.ID, p.CurrentPrice, reason)
		if err != nil {
			s.log.Error().Err(err).Str("position_id", p.ID).Msg("auto-close failed")
			continue
		}
		closed = append(closed, sealed)
	}
	return closed, nil
}
