package strategy

import (
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/domain/indicators"
)

// BreakoutVolumeEngine buys closes above the prior N-bar high when volume
// runs hot relative to its moving average. The only exit is the ATR trailing
// stop.
type BreakoutVolumeEngine struct {
	params BreakoutVolumeParams
}

func (e *BreakoutVolumeEngine) Name() string { return string(KindBreakoutVolume) }

func (e *BreakoutVolumeEngine) Params() BreakoutVolumeParams { return e.params }

func (e *BreakoutVolumeEngine) Requests() []BarRequest {
	return []BarRequest{{Interval: e.params.Interval, Limit: e.params.LookbackBars}}
}

type breakoutRow struct {
	close     float64
	priorHigh float64
	volume    float64
	volumeMA  float64
	atr       float64
}

func (e *BreakoutVolumeEngine) lastRow(bars []domain.Bar) (breakoutRow, bool) {
	closes := domain.Closes(bars)
	volumes := domain.Volumes(bars)
	priorHigh := indicators.PriorHigh(bars, e.params.BreakoutPeriod)
	volumeMA := indicators.SMA(volumes, e.params.VolumeMAPeriod)
	atr := indicators.ATR(bars, e.params.ATRPeriod)

	valid := validIndices(len(bars), priorHigh, volumeMA, atr)
	if len(valid) == 0 {
		return breakoutRow{}, false
	}
	i := valid[len(valid)-1]
	return breakoutRow{
		close:     closes[i],
		priorHigh: priorHigh[i],
		volume:    volumes[i],
		volumeMA:  volumeMA[i],
		atr:       atr[i],
	}, true
}

func (e *BreakoutVolumeEngine) Decide(data MarketData, state PositionState) Decision {
	row, ok := e.lastRow(data.Bars)
	if !ok {
		return Decision{Signal: SignalHold, Reason: ReasonInsufficientData}
	}

	ind := map[string]float64{
		"close":      row.close,
		"prior_high": row.priorHigh,
		"volume":     row.volume,
		"volume_ma":  row.volumeMA,
		"atr":        row.atr,
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
		return Decision{Signal: SignalHold, Reason: ReasonInPositionHold, Stop: stop, Close: row.close, Indicators: ind}
	}

	if state.BarsSinceTrade < e.params.Cooldown {
		return Decision{Signal: SignalHold, Reason: ReasonCooldown, Close: row.close, Indicators: ind}
	}
	if row.close > row.priorHigh {
		if row.volume >= row.volumeMA*e.params.VolumeMultiplier {
			stop := row.close - row.atr*e.params.InitialStopATR
			return Decision{Signal: SignalBuy, Reason: ReasonBreakoutVolumeConfirmed, Stop: stop, Close: row.close, Indicators: ind}
		}
		return Decision{Signal: SignalHold, Reason: ReasonBreakoutNoVolume, Close: row.close, Indicators: ind}
	}
	return Decision{Signal: SignalHold, Reason: ReasonNoBreakout, Close: row.close, Indicators: ind}
}
