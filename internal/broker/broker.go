// Package broker is the exchange boundary: candle data, quotes, balances,
// order sizing and order placement.
package broker

import (
	"context"
	"errors"

	"github.com/coinpilot/coinpilot/internal/domain"
)

var (
	// ErrOrderRejected marks an application-level rejection from the venue.
	// Callers must not retry these.
	ErrOrderRejected = errors.New("broker: order rejected")

	ErrInsufficientFunds = errors.New("broker: insufficient funds")
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Balance is one coin's wallet state.
type Balance struct {
	Coin      string  `json:"coin"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// OrderRequest is a spot market order in base units.
type OrderRequest struct {
	Symbol   string
	Side     string // "buy" or "sell"
	Quantity float64
}

// OrderResult reports a placed order.
type OrderResult struct {
	OrderID string
	Price   float64 // fill or reference price when the venue reports one
}

// Broker is everything the strategy controller needs from a venue.
// GetCurrentPrice deliberately swallows transient failures and returns 0;
// callers treat 0 as "no quote" and skip the dependent work.
type Broker interface {
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)
	GetCurrentPrice(ctx context.Context, symbol string) float64
	GetBalance(ctx context.Context) (map[string]Balance, error)
	ComputeSafeOrderSize(ctx context.Context, symbol string, price float64) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// SizingConfig bounds ComputeSafeOrderSize. TradeBudget is the quote amount
// committed per entry, MinOrderQuote the venue's minimum notional, and
// MaxPositionPct caps a single position as a share of total equity.
type SizingConfig struct {
	TradeBudget    float64 `yaml:"trade_budget"`
	MinOrderQuote  float64 `yaml:"min_order_quote"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	QuoteCoin      string  `yaml:"quote_coin"`
}

// DefaultSizing mirrors conservative demo limits.
func DefaultSizing() SizingConfig {
	return SizingConfig{
		TradeBudget:    100,
		MinOrderQuote:  5,
		MaxPositionPct: 25,
		QuoteCoin:      "USDT",
	}
}

// safeOrderSize applies the shared sizing rules to a quote balance. Returns
// 0 when no order should be placed.
func safeOrderSize(cfg SizingConfig, price, availableQuote, totalEquity float64) float64 {
	if price <= 0 {
		return 0
	}
	quote := cfg.TradeBudget
	if quote > availableQuote {
		quote = availableQuote
	}
	if cfg.MaxPositionPct > 0 && totalEquity > 0 {
		if limit := totalEquity * cfg.MaxPositionPct / 100; quote > limit {
			quote = limit
		}
	}
	if quote < cfg.MinOrderQuote {
		return 0
	}
	return quote / price
}
