package strategy

import (
	"fmt"

	"github.com/coinpilot/coinpilot/internal/domain"
)

// Signal is the action a signal engine recommends for the current cycle.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Reason codes emitted by the signal engines. The decision log stores these
// verbatim, so they are stable machine-readable identifiers, not prose.
const (
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonCooldown         Reason = "cooldown"
	ReasonInPositionHold   Reason = "in_position_hold"
	ReasonNoEntry          Reason = "no_entry"

	// Regime-trend
	ReasonBullishRegimeBreakout Reason = "bullish_regime_breakout"
	ReasonTrailingStopHit       Reason = "trailing_stop_hit"
	ReasonRegimeExit            Reason = "regime_exit"

	// Breakout+volume
	ReasonBreakoutVolumeConfirmed Reason = "breakout_volume_confirmed"
	ReasonBreakoutNoVolume        Reason = "breakout_no_volume"
	ReasonNoBreakout              Reason = "no_breakout"

	// Mean-reversion
	ReasonRSIOversoldBBLower Reason = "rsi_oversold_bb_lower"
	ReasonStopHit            Reason = "stop_hit"
	ReasonRSIOverbought      Reason = "rsi_overbought"
	ReasonBBMidReached       Reason = "bb_mid_reached"

	// Dual-timeframe
	ReasonHTFBullRSIRecovery  Reason = "htf_bull_rsi_recovery"
	ReasonHTFTrendReversed    Reason = "htf_trend_reversed"
	ReasonHTFInsufficientData Reason = "htf_insufficient_data"
	ReasonNoHTFBull           Reason = "no_htf_bull"
	ReasonLTFNoEntry          Reason = "ltf_no_entry"

	// Cycle-level failures recorded by the controller.
	ReasonNoCandleData    Reason = "no_candle_data"
	ReasonMarketDataError Reason = "market_data_error"
)

// Reason is a short machine-readable code explaining a decision.
type Reason string

// Decision is the output of one engine evaluation. Stop is the risk stop
// level to carry into the next cycle; 0 means no stop. Indicators holds the
// last-row indicator values for the decision log.
type Decision struct {
	Signal     Signal
	Reason     Reason
	Stop       float64
	Close      float64
	Indicators map[string]float64
}

// PositionState is the slice of controller runtime state an engine needs to
// make a decision. Engines never mutate it.
type PositionState struct {
	InPosition     bool
	Stop           float64
	BarsSinceTrade int
}

// BarRequest describes one candle series an engine wants fetched per cycle.
type BarRequest struct {
	Interval string
	Limit    int
}

// MarketData carries the fetched candle series for one cycle. Bars is the
// primary interval; HTFBars is only populated for engines whose Requests()
// includes a second, higher-timeframe series.
type MarketData struct {
	Bars    []domain.Bar
	HTFBars []domain.Bar
}

// Engine turns a window of bars into a buy/sell/hold decision. Decide is
// synchronous, deterministic, and side-effect-free.
type Engine interface {
	Name() string
	Requests() []BarRequest
	Decide(data MarketData, state PositionState) Decision
}

// Kind selects one of the closed set of engine variants.
type Kind string

const (
	KindRegimeTrend    Kind = "regime_trend"
	KindBreakoutVolume Kind = "breakout_volume"
	KindMeanReversion  Kind = "mean_reversion"
	KindDualTimeframe  Kind = "dual_timeframe"
)

// NewEngine constructs the engine for kind with params already layered
// (defaults, preset, runtime patch). params must be the matching *Params
// value for the kind.
func NewEngine(kind Kind, params Params) (Engine, error) {
	switch p := params.(type) {
	case RegimeTrendParams:
		if kind != KindRegimeTrend {
			break
		}
		return &RegimeTrendEngine{params: p}, nil
	case BreakoutVolumeParams:
		if kind != KindBreakoutVolume {
			break
		}
		return &BreakoutVolumeEngine{params: p}, nil
	case MeanReversionParams:
		if kind != KindMeanReversion {
			break
		}
		return &MeanReversionEngine{params: p}, nil
	case DualTimeframeParams:
		if kind != KindDualTimeframe {
			break
		}
		return &DualTimeframeEngine{params: p}, nil
	}
	return nil, fmt.Errorf("strategy: params %T do not match kind %q", params, kind)
}

// DefaultParams returns the default parameter value for a strategy kind.
func DefaultParams(kind Kind) (Params, error) {
	switch kind {
	case KindRegimeTrend:
		return DefaultRegimeTrendParams(), nil
	case KindBreakoutVolume:
		return DefaultBreakoutVolumeParams(), nil
	case KindMeanReversion:
		return DefaultMeanReversionParams(), nil
	case KindDualTimeframe:
		return DefaultDualTimeframeParams(), nil
	default:
		return nil, fmt.Errorf("strategy: unknown kind %q", kind)
	}
}
