package strategy

import (
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/domain/indicators"
)

// DualTimeframeEngine gates lower-timeframe entries on a higher-timeframe
// EMA trend. Entries need the LTF RSI to cross back up through oversold with
// price above its EMA; exits come from the trailing stop or the HTF trend
// flipping bearish.
type DualTimeframeEngine struct {
	params DualTimeframeParams
}

func (e *DualTimeframeEngine) Name() string { return string(KindDualTimeframe) }

func (e *DualTimeframeEngine) Params() DualTimeframeParams { return e.params }

func (e *DualTimeframeEngine) Requests() []BarRequest {
	return []BarRequest{
		{Interval: e.params.LTFInterval, Limit: e.params.LTFLookbackBars},
		{Interval: e.params.HTFInterval, Limit: e.params.HTFLimit()},
	}
}

// htfBullish requires enough HTF history for the slow EMA to have settled
// before it will call the trend.
func (e *DualTimeframeEngine) htfBullish(bars []domain.Bar) (bullish, enoughData bool) {
	if len(bars) < e.params.HTFEMASlow+5 {
		return false, false
	}
	closes := domain.Closes(bars)
	emaFast := indicators.EMA(closes, e.params.HTFEMAFast)
	emaSlow := indicators.EMA(closes, e.params.HTFEMASlow)
	last := len(closes) - 1
	return emaFast[last] > emaSlow[last], true
}

type dualTFRow struct {
	close   float64
	ema     float64
	rsi     float64
	rsiPrev float64
	atr     float64
}

func (e *DualTimeframeEngine) lastRow(bars []domain.Bar) (dualTFRow, bool) {
	closes := domain.Closes(bars)
	ema := indicators.EMA(closes, e.params.LTFEMAPeriod)
	rsi := indicators.WilderRSI(closes, e.params.LTFRSIPeriod)
	atr := indicators.ATR(bars, e.params.ATRPeriod)

	valid := validIndices(len(bars), ema, rsi, atr)
	if len(valid) < 2 {
		return dualTFRow{}, false
	}
	i := valid[len(valid)-1]
	prev := valid[len(valid)-2]
	return dualTFRow{
		close:   closes[i],
		ema:     ema[i],
		rsi:     rsi[i],
		rsiPrev: rsi[prev],
		atr:     atr[i],
	}, true
}

func (e *DualTimeframeEngine) Decide(data MarketData, state PositionState) Decision {
	row, ok := e.lastRow(data.Bars)
	if !ok {
		return Decision{Signal: SignalHold, Reason: ReasonInsufficientData}
	}
	bullish, enoughHTF := e.htfBullish(data.HTFBars)

	htfFlag := 0.0
	if bullish {
		htfFlag = 1
	}
	ind := map[string]float64{
		"close":        row.close,
		"ltf_ema":      row.ema,
		"ltf_rsi":      row.rsi,
		"ltf_rsi_prev": row.rsiPrev,
		"atr":          row.atr,
		"htf_bullish":  htfFlag,
	}
	if !enoughHTF {
		// Unknown, not bearish. Omitted so the decision log stays JSON-clean.
		delete(ind, "htf_bullish")
	}

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
			return Decision{Signal: SignalSell, Reason: ReasonHTFTrendReversed, Stop: stop, Close: row.close, Indicators: ind}
		}
		return Decision{Signal: SignalHold, Reason: ReasonInPositionHold, Stop: stop, Close: row.close, Indicators: ind}
	}

	if state.BarsSinceTrade < e.params.Cooldown {
		return Decision{Signal: SignalHold, Reason: ReasonCooldown, Close: row.close, Indicators: ind}
	}
	if !bullish {
		reason := ReasonNoHTFBull
		if !enoughHTF {
			reason = ReasonHTFInsufficientData
		}
		return Decision{Signal: SignalHold, Reason: reason, Close: row.close, Indicators: ind}
	}
	if row.rsiPrev <= e.params.LTFRSIOversold && row.rsi > e.params.LTFRSIOversold && row.close > row.ema {
		stop := row.close - row.atr*e.params.InitialStopATR
		return Decision{Signal: SignalBuy, Reason: ReasonHTFBullRSIRecovery, Stop: stop, Close: row.close, Indicators: ind}
	}
	return Decision{Signal: SignalHold, Reason: ReasonLTFNoEntry, Close: row.close, Indicators: ind}
}
