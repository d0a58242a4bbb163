package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// MarketDataSource is the read-only slice of a venue the paper broker
// delegates to. The live Bybit client satisfies it, as do scripted feeds in
// tests.
type MarketDataSource interface {
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)
	GetCurrentPrice(ctx context.Context, symbol string) float64
}

// Paper simulates fills against live (or scripted) market data. Orders fill
// instantly at the current quote minus a flat fee. State is in-memory only.
type Paper struct {
	mu       sync.Mutex
	data     MarketDataSource
	sizing   SizingConfig
	feeRate  float64
	cash     float64
	holdings map[string]float64
	orderSeq int64
	log      zerolog.Logger
}

// NewPaper starts a paper account with startingCash in the quote coin.
func NewPaper(data MarketDataSource, sizing SizingConfig, startingCash float64, log zerolog.Logger) *Paper {
	if sizing == (SizingConfig{}) {
		sizing = DefaultSizing()
	}
	return &Paper{
		data:     data,
		sizing:   sizing,
		feeRate:  0.0006,
		cash:     startingCash,
		holdings: make(map[string]float64),
		log:      log.With().Str("component", "paper").Logger(),
	}
}

func (p *Paper) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	return p.data.GetBars(ctx, symbol, interval, limit)
}

func (p *Paper) GetCurrentPrice(ctx context.Context, symbol string) float64 {
	return p.data.GetCurrentPrice(ctx, symbol)
}

// baseCoin strips the quote suffix from a symbol: BTCUSDT -> BTC.
func (p *Paper) baseCoin(symbol string) string {
	return strings.TrimSuffix(symbol, p.sizing.QuoteCoin)
}

func (p *Paper) GetBalance(ctx context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := map[string]Balance{
		p.sizing.QuoteCoin: {Coin: p.sizing.QuoteCoin, Total: p.cash, Available: p.cash},
	}
	for coin, qty := range p.holdings {
		if qty <= 0 {
			continue
		}
		balances[coin] = Balance{Coin: coin, Total: qty, Available: qty}
	}
	return balances, nil
}

func (p *Paper) equity(ctx context.Context) float64 {
	total := p.cash
	for coin, qty := range p.holdings {
		if qty <= 0 {
			continue
		}
		if price := p.data.GetCurrentPrice(ctx, coin+p.sizing.QuoteCoin); price > 0 {
			total += qty * price
		}
	}
	return total
}

func (p *Paper) ComputeSafeOrderSize(ctx context.Context, symbol string, price float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return safeOrderSize(p.sizing, price, p.cash, p.equity(ctx)), nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	price := p.data.GetCurrentPrice(ctx, req.Symbol)
	if price <= 0 {
		return OrderResult{}, fmt.Errorf("paper order %s: no quote available", req.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	coin := p.baseCoin(req.Symbol)
	switch req.Side {
	case SideBuy:
		cost := req.Quantity * price
		fee := cost * p.feeRate
		if cost+fee > p.cash {
			return OrderResult{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost+fee, p.cash)
		}
		p.cash -= cost + fee
		p.holdings[coin] += req.Quantity
	case SideSell:
		if req.Quantity > p.holdings[coin] {
			return OrderResult{}, fmt.Errorf("%w: sell %.8f exceeds holding %.8f", ErrOrderRejected, req.Quantity, p.holdings[coin])
		}
		proceeds := req.Quantity * price
		p.cash += proceeds * (1 - p.feeRate)
		p.holdings[coin] -= req.Quantity
	default:
		return OrderResult{}, fmt.Errorf("%w: unknown side %q", ErrOrderRejected, req.Side)
	}

	p.orderSeq++
	id := "paper-" + strconv.FormatInt(p.orderSeq, 10)
	p.log.Info().Str("symbol", req.Symbol).Str("side", req.Side).
		Float64("qty", req.Quantity).Float64("price", price).Str("order_id", id).Msg("paper fill")
	return OrderResult{OrderID: id, Price: price}, nil
}

// StaticFeed is a scripted MarketDataSource for tests and offline replay.
type StaticFeed struct {
	mu     sync.Mutex
	Bars   map[string][]domain.Bar // keyed symbol+"/"+interval
	Prices map[string]float64
}

func (f *StaticFeed) SetBars(symbol, interval string, bars []domain.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Bars == nil {
		f.Bars = make(map[string][]domain.Bar)
	}
	f.Bars[symbol+"/"+interval] = bars
}

func (f *StaticFeed) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Prices == nil {
		f.Prices = make(map[string]float64)
	}
	f.Prices[symbol] = price
}

func (f *StaticFeed) GetBars(_ context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars := f.Bars[symbol+"/"+interval]
	if len(bars) > limit && limit > 0 {
		bars = bars[len(bars)-limit:]
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (f *StaticFeed) GetCurrentPrice(_ context.Context, symbol string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Prices[symbol]
}
