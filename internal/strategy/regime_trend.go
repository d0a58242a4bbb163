package strategy

import (
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/domain/indicators"
)

// RegimeTrendEngine trades long when the fast EMA sits a minimum gap above
// the slow EMA and price closes above the fast EMA. Exits come from an ATR
// trailing stop or the regime flipping bearish.
type RegimeTrendEngine struct {
	params RegimeTrendParams
}

func (e *RegimeTrendEngine) Name() string { return string(KindRegimeTrend) }

func (e *RegimeTrendEngine) Params() RegimeTrendParams { return e.params }

func (e *RegimeTrendEngine) Requests() []BarRequest {
	return []BarRequest{{Interval: e.params.Interval, Limit: e.params.LookbackBars}}
}

type regimeTrendRow struct {
	close       float64
	emaFast     float64
	emaSlow     float64
	atr         float64
	trendGapPct float64
}

func (e *RegimeTrendEngine) lastRow(bars []domain.Bar) (regimeTrendRow, bool) {
	closes := domain.Closes(bars)
	emaFast := indicators.EMA(closes, e.params.EMAFastPeriod)
	emaSlow := indicators.EMA(closes, e.params.EMASlowPeriod)
	atr := indicators.ATR(bars, e.params.ATRPeriod)

	valid := validIndices(len(bars), emaFast, emaSlow, atr)
	if len(valid) == 0 {
		return regimeTrendRow{}, false
	}
	i := valid[len(valid)-1]
	if emaSlow[i] == 0 {
		return regimeTrendRow{}, false
	}
	return regimeTrendRow{
		close:       closes[i],
		emaFast:     emaFast[i],
		emaSlow:     emaSlow[i],
		atr:         atr[i],
		trendGapPct: (emaFast[i] - emaSlow[i]) / emaSlow[i],
	}, true
}

func (e *RegimeTrendEngine) Decide(data MarketData, state PositionState) Decision {
	row, ok := e.lastRow(data.Bars)
	if !ok {
		return Decision{Signal: SignalHold, Reason: ReasonInsufficientData}
	}

	ind := map[string]float64{
		"close":         row.close,
		"ema_fast":      row.emaFast,
		"ema_slow":      row.emaSlow,
		"atr":           row.atr,
		"trend_gap_pct": row.trendGapPct,
	}
	bullish := row.trendGapPct >= e.params.MinTrendGapPct

	if state.InPosition {
		candidate := row.close - row.atr*e.params.TrailingStopATR
		stop := ratchetStop(state.Stop, candidate)
		if state.Stop == 0 {
			stop = candidate
		}
		if row.close <= stop {
			return Decision{Signal: SignalSell, Reason: ReasonTrailingStopHit, Stop: stop, Close: row.close, Indicators: ind}
		}
		if !bullish {
			return Decision{Signal: SignalSell, Reason: ReasonRegimeExit, Stop: stop, Close: row.close, Indicators: ind}
		}
		return Decision{Signal: SignalHold, Reason: ReasonInPositionHold, Stop: stop, Close: row.close, Indicators: ind}
	}

	if state.BarsSinceTrade < e.params.Cooldown {
		return Decision{Signal: SignalHold, Reason: ReasonCooldown, Close: row.close, Indicators: ind}
	}
	if bullish && row.close > row.emaFast {
		stop := row.close - row.atr*e.params.InitialStopATR
		return Decision{Signal: SignalBuy, Reason: ReasonBullishRegimeBreakout, Stop: stop, Close: row.close, Indicators: ind}
	}
	return Decision{Signal: SignalHold, Reason: ReasonNoEntry, Close: row.close, Indicators: ind}
}
