package strategy

import (
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/domain/indicators"
)

// MeanReversionEngine buys oversold dips at the lower Bollinger band and
// exits on a fixed ATR stop, an overbought RSI, or price reverting to the
// band midline. The stop set at entry never trails.
type MeanReversionEngine struct {
	params MeanReversionParams
}

func (e *MeanReversionEngine) Name() string { return string(KindMeanReversion) }

func (e *MeanReversionEngine) Params() MeanReversionParams { return e.params }

func (e *MeanReversionEngine) Requests() []BarRequest {
	return []BarRequest{{Interval: e.params.Interval, Limit: e.params.LookbackBars}}
}

type meanReversionRow struct {
	close   float64
	rsi     float64
	bbUpper float64
	bbMid   float64
	bbLower float64
	atr     float64
}

func (e *MeanReversionEngine) lastRow(bars []domain.Bar) (meanReversionRow, bool) {
	closes := domain.Closes(bars)
	rsi := indicators.WilderRSI(closes, e.params.RSIPeriod)
	bbUpper, bbMid, bbLower := indicators.BollingerBands(closes, e.params.BBPeriod, e.params.BBStd)
	atr := indicators.ATR(bars, e.params.ATRPeriod)

	valid := validIndices(len(bars), rsi, bbUpper, bbMid, bbLower, atr)
	if len(valid) == 0 {
		return meanReversionRow{}, false
	}
	i := valid[len(valid)-1]
	return meanReversionRow{
		close:   closes[i],
		rsi:     rsi[i],
		bbUpper: bbUpper[i],
		bbMid:   bbMid[i],
		bbLower: bbLower[i],
		atr:     atr[i],
	}, true
}

func (e *MeanReversionEngine) Decide(data MarketData, state PositionState) Decision {
	row, ok := e.lastRow(data.Bars)
	if !ok {
		return Decision{Signal: SignalHold, Reason: ReasonInsufficientData}
	}

	ind := map[string]float64{
		"close":    row.close,
		"rsi":      row.rsi,
		"bb_upper": row.bbUpper,
		"bb_mid":   row.bbMid,
		"bb_lower": row.bbLower,
		"atr":      row.atr,
	}

	if state.InPosition {
		// Stop check outranks every other exit condition.
		if state.Stop > 0 && row.close <= state.Stop {
			return Decision{Signal: SignalSell, Reason: ReasonStopHit, Stop: state.Stop, Close: row.close, Indicators: ind}
		}
		if row.rsi >= e.params.RSIOverbought {
			return Decision{Signal: SignalSell, Reason: ReasonRSIOverbought, Stop: state.Stop, Close: row.close, Indicators: ind}
		}
		if row.close >= row.bbMid {
			return Decision{Signal: SignalSell, Reason: ReasonBBMidReached, Stop: state.Stop, Close: row.close, Indicators: ind}
		}
		return Decision{Signal: SignalHold, Reason: ReasonInPositionHold, Stop: state.Stop, Close: row.close, Indicators: ind}
	}

	if state.BarsSinceTrade < e.params.Cooldown {
		return Decision{Signal: SignalHold, Reason: ReasonCooldown, Close: row.close, Indicators: ind}
	}
	if row.rsi <= e.params.RSIOversold && row.close <= row.bbLower {
		stop := row.close - row.atr*e.params.StopATR
		return Decision{Signal: SignalBuy, Reason: ReasonRSIOversoldBBLower, Stop: stop, Close: row.close, Indicators: ind}
	}
	return Decision{Signal: SignalHold, Reason: ReasonNoEntry, Close: row.close, Indicators: ind}
}
