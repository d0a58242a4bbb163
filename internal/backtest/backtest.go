// Package backtest replays a signal engine over historical candles with
// long-only, all-in fills and a flat fee rate.
package backtest

import (
	"fmt"

	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/strategy"
)

// Config tunes the replay account.
type Config struct {
	InitialCash float64
	FeeRate     float64
}

// DefaultConfig mirrors typical spot taker fees.
func DefaultConfig() Config {
	return Config{InitialCash: 1000, FeeRate: 0.0006}
}

// Fill is one simulated execution.
type Fill struct {
	Index    int     `json:"index"`
	Time     int64   `json:"time"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
	PnLPct   float64 `json:"pnl_pct"` // sells only, vs the matching buy
}

// Result is the replay report.
type Result struct {
	Fills          []Fill    `json:"fills"`
	EquityCurve    []float64 `json:"equity_curve"`
	FinalEquity    float64   `json:"final_equity"`
	ReturnPct      float64   `json:"return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	WinRatePct     float64   `json:"win_rate_pct"`
	Rounds         int       `json:"rounds"` // completed buy/sell pairs
}

// Run replays the strategy over bars with a growing window, so every
// decision sees only the history available at that bar. Dual-timeframe
// strategies see the same window on both timeframes.
func Run(kind strategy.Kind, params strategy.Params, bars []domain.Bar, cfg Config) (Result, error) {
	if len(bars) == 0 {
		return Result{}, fmt.Errorf("backtest: no bars")
	}
	if cfg.InitialCash <= 0 {
		return Result{}, fmt.Errorf("backtest: initial cash must be positive")
	}
	engine, err := strategy.NewEngine(kind, params)
	if err != nil {
		return Result{}, err
	}

	state := strategy.PositionState{BarsSinceTrade: params.CooldownBars()}
	cash := cfg.InitialCash
	qty := 0.0
	lastBuyPrice := 0.0

	res := Result{EquityCurve: make([]float64, 0, len(bars))}
	for i := range bars {
		window := bars[:i+1]
		decision := engine.Decide(strategy.MarketData{Bars: window, HTFBars: window}, state)

		switch {
		case decision.Signal == strategy.SignalBuy && !state.InPosition && decision.Close > 0:
			fee := cash * cfg.FeeRate
			qty = (cash - fee) / decision.Close
			cash = 0
			lastBuyPrice = decision.Close
			state.InPosition = true
			state.Stop = decision.Stop
			state.BarsSinceTrade = 0
			res.Fills = append(res.Fills, Fill{
				Index: i, Time: bars[i].Timestamp, Side: "buy",
				Price: decision.Close, Quantity: qty, Reason: string(decision.Reason),
			})
		case decision.Signal == strategy.SignalSell && state.InPosition:
			proceeds := qty * decision.Close * (1 - cfg.FeeRate)
			pnlPct := 0.0
			if lastBuyPrice > 0 {
				pnlPct = (decision.Close - lastBuyPrice) / lastBuyPrice * 100
			}
			res.Fills = append(res.Fills, Fill{
				Index: i, Time: bars[i].Timestamp, Side: "sell",
				Price: decision.Close, Quantity: qty, Reason: string(decision.Reason), PnLPct: pnlPct,
			})
			cash = proceeds
			qty = 0
			state.InPosition = false
			state.Stop = 0
			state.BarsSinceTrade = 0
			res.Rounds++
		default:
			if state.InPosition {
				state.Stop = decision.Stop
			}
			state.BarsSinceTrade++
		}

		res.EquityCurve = append(res.EquityCurve, cash+qty*bars[i].Close)
	}

	res.FinalEquity = res.EquityCurve[len(res.EquityCurve)-1]
	res.ReturnPct = (res.FinalEquity - cfg.InitialCash) / cfg.InitialCash * 100
	res.MaxDrawdownPct = maxDrawdown(res.EquityCurve)
	res.WinRatePct = winRate(res.Fills)
	return res, nil
}

func maxDrawdown(curve []float64) float64 {
	peak := 0.0
	worst := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func winRate(fills []Fill) float64 {
	sells, wins := 0, 0
	for _, f := range fills {
		if f.Side != "sell" {
			continue
		}
		sells++
		if f.PnLPct > 0 {
			wins++
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells) * 100
}
