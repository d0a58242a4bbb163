package strategy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is the read-only parameter value behind every engine. Apply never
// mutates the receiver: it returns a new value with the patch layered on,
// rejecting unknown keys and values that do not coerce to the field's type.
type Params interface {
	Kind() Kind
	Symbol() string
	LoopSeconds() int
	CooldownBars() int
	Map() map[string]any
	Apply(patch map[string]any) (Params, error)
}

// RegimeTrendParams parameterizes the EMA-regime trend follower.
type RegimeTrendParams struct {
	SymbolName      string  `json:"symbol" yaml:"symbol"`
	Interval        string  `json:"interval" yaml:"interval"`
	LookbackBars    int     `json:"lookback_bars" yaml:"lookback_bars"`
	EMAFastPeriod   int     `json:"ema_fast_period" yaml:"ema_fast_period"`
	EMASlowPeriod   int     `json:"ema_slow_period" yaml:"ema_slow_period"`
	MinTrendGapPct  float64 `json:"min_trend_gap_pct" yaml:"min_trend_gap_pct"`
	ATRPeriod       int     `json:"atr_period" yaml:"atr_period"`
	InitialStopATR  float64 `json:"initial_stop_atr_mult" yaml:"initial_stop_atr_mult"`
	TrailingStopATR float64 `json:"trailing_stop_atr_mult" yaml:"trailing_stop_atr_mult"`
	LoopSecs        int     `json:"loop_seconds" yaml:"loop_seconds"`
	Cooldown        int     `json:"cooldown_bars" yaml:"cooldown_bars"`
}

// DefaultRegimeTrendParams returns the production defaults.
func DefaultRegimeTrendParams() RegimeTrendParams {
	return RegimeTrendParams{
		SymbolName:      "BTCUSDT",
		Interval:        "15",
		LookbackBars:    260,
		EMAFastPeriod:   50,
		EMASlowPeriod:   200,
		MinTrendGapPct:  0.001,
		ATRPeriod:       14,
		InitialStopATR:  2.5,
		TrailingStopATR: 3.0,
		LoopSecs:        60,
		Cooldown:        2,
	}
}

func (p RegimeTrendParams) Kind() Kind        { return KindRegimeTrend }
func (p RegimeTrendParams) Symbol() string    { return p.SymbolName }
func (p RegimeTrendParams) LoopSeconds() int  { return p.LoopSecs }
func (p RegimeTrendParams) CooldownBars() int { return p.Cooldown }

func (p RegimeTrendParams) Map() map[string]any {
	return map[string]any{
		"symbol":                 p.SymbolName,
		"interval":               p.Interval,
		"lookback_bars":          p.LookbackBars,
		"ema_fast_period":        p.EMAFastPeriod,
		"ema_slow_period":        p.EMASlowPeriod,
		"min_trend_gap_pct":      p.MinTrendGapPct,
		"atr_period":             p.ATRPeriod,
		"initial_stop_atr_mult":  p.InitialStopATR,
		"trailing_stop_atr_mult": p.TrailingStopATR,
		"loop_seconds":           p.LoopSecs,
		"cooldown_bars":          p.Cooldown,
	}
}

// Apply layers patch over p, returning the new value.
func (p RegimeTrendParams) Apply(patch map[string]any) (Params, error) {
	next := p
	for key, raw := range patch {
		var err error
		switch key {
		case "symbol":
			next.SymbolName, err = coerceString(raw)
		case "interval":
			next.Interval, err = coerceString(raw)
		case "lookback_bars":
			next.LookbackBars, err = coerceInt(raw)
		case "ema_fast_period":
			next.EMAFastPeriod, err = coerceInt(raw)
		case "ema_slow_period":
			next.EMASlowPeriod, err = coerceInt(raw)
		case "min_trend_gap_pct":
			next.MinTrendGapPct, err = coerceFloat(raw)
		case "atr_period":
			next.ATRPeriod, err = coerceInt(raw)
		case "initial_stop_atr_mult":
			next.InitialStopATR, err = coerceFloat(raw)
		case "trailing_stop_atr_mult":
			next.TrailingStopATR, err = coerceFloat(raw)
		case "loop_seconds":
			next.LoopSecs, err = coerceInt(raw)
		case "cooldown_bars":
			next.Cooldown, err = coerceInt(raw)
		default:
			return nil, fmt.Errorf("strategy: unknown parameter %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("strategy: parameter %q: %w", key, err)
		}
	}
	return next, nil
}

// RegimeTrendParamDescriptions documents each tunable for operators.
func RegimeTrendParamDescriptions() map[string]string {
	return map[string]string{
		"symbol":                 "Exchange spot symbol to trade.",
		"interval":               "Kline interval string used by the exchange API (e.g. 1, 5, 15, 60).",
		"lookback_bars":          "Number of candles fetched per strategy cycle.",
		"ema_fast_period":        "Fast EMA period used for trend tracking.",
		"ema_slow_period":        "Slow EMA period used as regime filter.",
		"min_trend_gap_pct":      "Minimum normalized gap (EMA fast - EMA slow) / EMA slow to accept bullish regime.",
		"atr_period":             "ATR period for volatility-aware stop logic.",
		"initial_stop_atr_mult":  "Initial stop distance at entry: ATR * multiplier.",
		"trailing_stop_atr_mult": "Trailing stop distance while holding a long position: ATR * multiplier.",
		"loop_seconds":           "Polling interval for the live execution loop.",
		"cooldown_bars":          "Minimum bars to wait after a trade before the next entry.",
	}
}

// BreakoutVolumeParams parameterizes the prior-high breakout with volume
// confirmation.
type BreakoutVolumeParams struct {
	SymbolName       string  `json:"symbol" yaml:"symbol"`
	Interval         string  `json:"interval" yaml:"interval"`
	LookbackBars     int     `json:"lookback_bars" yaml:"lookback_bars"`
	BreakoutPeriod   int     `json:"breakout_period" yaml:"breakout_period"`
	VolumeMAPeriod   int     `json:"volume_ma_period" yaml:"volume_ma_period"`
	VolumeMultiplier float64 `json:"volume_multiplier" yaml:"volume_multiplier"`
	ATRPeriod        int     `json:"atr_period" yaml:"atr_period"`
	InitialStopATR   float64 `json:"initial_stop_atr_mult" yaml:"initial_stop_atr_mult"`
	TrailingStopATR  float64 `json:"trailing_stop_atr_mult" yaml:"trailing_stop_atr_mult"`
	LoopSecs         int     `json:"loop_seconds" yaml:"loop_seconds"`
	Cooldown         int     `json:"cooldown_bars" yaml:"cooldown_bars"`
}

func DefaultBreakoutVolumeParams() BreakoutVolumeParams {
	return BreakoutVolumeParams{
		SymbolName:       "BTCUSDT",
		Interval:         "15",
		LookbackBars:     200,
		BreakoutPeriod:   20,
		VolumeMAPeriod:   20,
		VolumeMultiplier: 1.5,
		ATRPeriod:        14,
		InitialStopATR:   2.0,
		TrailingStopATR:  2.5,
		LoopSecs:         60,
		Cooldown:         2,
	}
}

func (p BreakoutVolumeParams) Kind() Kind        { return KindBreakoutVolume }
func (p BreakoutVolumeParams) Symbol() string    { return p.SymbolName }
func (p BreakoutVolumeParams) LoopSeconds() int  { return p.LoopSecs }
func (p BreakoutVolumeParams) CooldownBars() int { return p.Cooldown }

func (p BreakoutVolumeParams) Map() map[string]any {
	return map[string]any{
		"symbol":                 p.SymbolName,
		"interval":               p.Interval,
		"lookback_bars":          p.LookbackBars,
		"breakout_period":        p.BreakoutPeriod,
		"volume_ma_period":       p.VolumeMAPeriod,
		"volume_multiplier":      p.VolumeMultiplier,
		"atr_period":             p.ATRPeriod,
		"initial_stop_atr_mult":  p.InitialStopATR,
		"trailing_stop_atr_mult": p.TrailingStopATR,
		"loop_seconds":           p.LoopSecs,
		"cooldown_bars":          p.Cooldown,
	}
}

func (p BreakoutVolumeParams) Apply(patch map[string]any) (Params, error) {
	next := p
	for key, raw := range patch {
		var err error
		switch key {
		case "symbol":
			next.SymbolName, err = coerceString(raw)
		case "interval":
			next.Interval, err = coerceString(raw)
		case "lookback_bars":
			next.LookbackBars, err = coerceInt(raw)
		case "breakout_period":
			next.BreakoutPeriod, err = coerceInt(raw)
		case "volume_ma_period":
			next.VolumeMAPeriod, err = coerceInt(raw)
		case "volume_multiplier":
			next.VolumeMultiplier, err = coerceFloat(raw)
		case "atr_period":
			next.ATRPeriod, err = coerceInt(raw)
		case "initial_stop_atr_mult":
			next.InitialStopATR, err = coerceFloat(raw)
		case "trailing_stop_atr_mult":
			next.TrailingStopATR, err = coerceFloat(raw)
		case "loop_seconds":
			next.LoopSecs, err = coerceInt(raw)
		case "cooldown_bars":
			next.Cooldown, err = coerceInt(raw)
		default:
			return nil, fmt.Errorf("strategy: unknown parameter %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("strategy: parameter %q: %w", key, err)
		}
	}
	return next, nil
}

func BreakoutVolumeParamDescriptions() map[string]string {
	return map[string]string{
		"symbol":                 "Exchange spot symbol to trade.",
		"interval":               "Kline interval string used by the exchange API.",
		"lookback_bars":          "Number of candles fetched per strategy cycle.",
		"breakout_period":        "Window of prior bars whose high must be exceeded.",
		"volume_ma_period":       "Rolling window for the volume moving average.",
		"volume_multiplier":      "Required volume surge: volume >= volume_ma * multiplier.",
		"atr_period":             "ATR period for volatility-aware stop logic.",
		"initial_stop_atr_mult":  "Initial stop distance at entry: ATR * multiplier.",
		"trailing_stop_atr_mult": "Trailing stop distance while holding: ATR * multiplier.",
		"loop_seconds":           "Polling interval for the live execution loop.",
		"cooldown_bars":          "Minimum bars to wait after a trade before the next entry.",
	}
}

// MeanReversionParams parameterizes the RSI + Bollinger mean reverter.
type MeanReversionParams struct {
	SymbolName    string  `json:"symbol" yaml:"symbol"`
	Interval      string  `json:"interval" yaml:"interval"`
	LookbackBars  int     `json:"lookback_bars" yaml:"lookback_bars"`
	BBPeriod      int     `json:"bb_period" yaml:"bb_period"`
	BBStd         float64 `json:"bb_std" yaml:"bb_std"`
	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	ATRPeriod     int     `json:"atr_period" yaml:"atr_period"`
	StopATR       float64 `json:"stop_atr_mult" yaml:"stop_atr_mult"`
	LoopSecs      int     `json:"loop_seconds" yaml:"loop_seconds"`
	Cooldown      int     `json:"cooldown_bars" yaml:"cooldown_bars"`
}

func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		SymbolName:    "BTCUSDT",
		Interval:      "15",
		LookbackBars:  200,
		BBPeriod:      20,
		BBStd:         2.0,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		ATRPeriod:     14,
		StopATR:       2.0,
		LoopSecs:      60,
		Cooldown:      2,
	}
}

func (p MeanReversionParams) Kind() Kind        { return KindMeanReversion }
func (p MeanReversionParams) Symbol() string    { return p.SymbolName }
func (p MeanReversionParams) LoopSeconds() int  { return p.LoopSecs }
func (p MeanReversionParams) CooldownBars() int { return p.Cooldown }

func (p MeanReversionParams) Map() map[string]any {
	return map[string]any{
		"symbol":         p.SymbolName,
		"interval":       p.Interval,
		"lookback_bars":  p.LookbackBars,
		"bb_period":      p.BBPeriod,
		"bb_std":         p.BBStd,
		"rsi_period":     p.RSIPeriod,
		"rsi_overbought": p.RSIOverbought,
		"rsi_oversold":   p.RSIOversold,
		"atr_period":     p.ATRPeriod,
		"stop_atr_mult":  p.StopATR,
		"loop_seconds":   p.LoopSecs,
		"cooldown_bars":  p.Cooldown,
	}
}

func (p MeanReversionParams) Apply(patch map[string]any) (Params, error) {
	next := p
	for key, raw := range patch {
		var err error
		switch key {
		case "symbol":
			next.SymbolName, err = coerceString(raw)
		case "interval":
			next.Interval, err = coerceString(raw)
		case "lookback_bars":
			next.LookbackBars, err = coerceInt(raw)
		case "bb_period":
			next.BBPeriod, err = coerceInt(raw)
		case "bb_std":
			next.BBStd, err = coerceFloat(raw)
		case "rsi_period":
			next.RSIPeriod, err = coerceInt(raw)
		case "rsi_overbought":
			next.RSIOverbought, err = coerceFloat(raw)
		case "rsi_oversold":
			next.RSIOversold, err = coerceFloat(raw)
		case "atr_period":
			next.ATRPeriod, err = coerceInt(raw)
		case "stop_atr_mult":
			next.StopATR, err = coerceFloat(raw)
		case "loop_seconds":
			next.LoopSecs, err = coerceInt(raw)
		case "cooldown_bars":
			next.Cooldown, err = coerceInt(raw)
		default:
			return nil, fmt.Errorf("strategy: unknown parameter %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("strategy: parameter %q: %w", key, err)
		}
	}
	return next, nil
}

func MeanReversionParamDescriptions() map[string]string {
	return map[string]string{
		"symbol":         "Exchange spot symbol to trade.",
		"interval":       "Kline interval string used by the exchange API.",
		"lookback_bars":  "Number of candles fetched per strategy cycle.",
		"bb_period":      "Bollinger band rolling window.",
		"bb_std":         "Bollinger band width in standard deviations.",
		"rsi_period":     "RSI period (Wilder smoothing).",
		"rsi_overbought": "RSI level treated as overbought (exit).",
		"rsi_oversold":   "RSI level treated as oversold (entry).",
		"atr_period":     "ATR period for the fixed entry stop.",
		"stop_atr_mult":  "Fixed stop distance at entry: ATR * multiplier.",
		"loop_seconds":   "Polling interval for the live execution loop.",
		"cooldown_bars":  "Minimum bars to wait after a trade before the next entry.",
	}
}

// DualTimeframeParams parameterizes the HTF-trend-filtered LTF RSI recovery
// entry.
type DualTimeframeParams struct {
	SymbolName      string  `json:"symbol" yaml:"symbol"`
	HTFInterval     string  `json:"htf_interval" yaml:"htf_interval"`
	LTFInterval     string  `json:"ltf_interval" yaml:"ltf_interval"`
	LTFLookbackBars int     `json:"ltf_lookback_bars" yaml:"ltf_lookback_bars"`
	HTFEMAFast      int     `json:"htf_ema_fast" yaml:"htf_ema_fast"`
	HTFEMASlow      int     `json:"htf_ema_slow" yaml:"htf_ema_slow"`
	LTFEMAPeriod    int     `json:"ltf_ema_period" yaml:"ltf_ema_period"`
	LTFRSIPeriod    int     `json:"ltf_rsi_period" yaml:"ltf_rsi_period"`
	LTFRSIOversold  float64 `json:"ltf_rsi_oversold" yaml:"ltf_rsi_oversold"`
	ATRPeriod       int     `json:"atr_period" yaml:"atr_period"`
	InitialStopATR  float64 `json:"initial_stop_atr_mult" yaml:"initial_stop_atr_mult"`
	TrailingStopATR float64 `json:"trailing_stop_atr_mult" yaml:"trailing_stop_atr_mult"`
	LoopSecs        int     `json:"loop_seconds" yaml:"loop_seconds"`
	Cooldown        int     `json:"cooldown_bars" yaml:"cooldown_bars"`
}

func DefaultDualTimeframeParams() DualTimeframeParams {
	return DualTimeframeParams{
		SymbolName:      "BTCUSDT",
		HTFInterval:     "60",
		LTFInterval:     "5",
		LTFLookbackBars: 200,
		HTFEMAFast:      20,
		HTFEMASlow:      50,
		LTFEMAPeriod:    20,
		LTFRSIPeriod:    14,
		LTFRSIOversold:  35,
		ATRPeriod:       14,
		InitialStopATR:  2.0,
		TrailingStopATR: 2.5,
		LoopSecs:        60,
		Cooldown:        3,
	}
}

func (p DualTimeframeParams) Kind() Kind        { return KindDualTimeframe }
func (p DualTimeframeParams) Symbol() string    { return p.SymbolName }
func (p DualTimeframeParams) LoopSeconds() int  { return p.LoopSecs }
func (p DualTimeframeParams) CooldownBars() int { return p.Cooldown }

// HTFLimit is the candle count requested on the higher timeframe; generous
// relative to the slow EMA so the recursive average has settled.
func (p DualTimeframeParams) HTFLimit() int {
	limit := p.HTFEMASlow * 3
	if min := p.HTFEMASlow + 20; limit < min {
		limit = min
	}
	return limit
}

func (p DualTimeframeParams) Map() map[string]any {
	return map[string]any{
		"symbol":                 p.SymbolName,
		"htf_interval":           p.HTFInterval,
		"ltf_interval":           p.LTFInterval,
		"ltf_lookback_bars":      p.LTFLookbackBars,
		"htf_ema_fast":           p.HTFEMAFast,
		"htf_ema_slow":           p.HTFEMASlow,
		"ltf_ema_period":         p.LTFEMAPeriod,
		"ltf_rsi_period":         p.LTFRSIPeriod,
		"ltf_rsi_oversold":       p.LTFRSIOversold,
		"atr_period":             p.ATRPeriod,
		"initial_stop_atr_mult":  p.InitialStopATR,
		"trailing_stop_atr_mult": p.TrailingStopATR,
		"loop_seconds":           p.LoopSecs,
		"cooldown_bars":          p.Cooldown,
	}
}

func (p DualTimeframeParams) Apply(patch map[string]any) (Params, error) {
	next := p
	for key, raw := range patch {
		var err error
		switch key {
		case "symbol":
			next.SymbolName, err = coerceString(raw)
		case "htf_interval":
			next.HTFInterval, err = coerceString(raw)
		case "ltf_interval":
			next.LTFInterval, err = coerceString(raw)
		case "ltf_lookback_bars":
			next.LTFLookbackBars, err = coerceInt(raw)
		case "htf_ema_fast":
			next.HTFEMAFast, err = coerceInt(raw)
		case "htf_ema_slow":
			next.HTFEMASlow, err = coerceInt(raw)
		case "ltf_ema_period":
			next.LTFEMAPeriod, err = coerceInt(raw)
		case "ltf_rsi_period":
			next.LTFRSIPeriod, err = coerceInt(raw)
		case "ltf_rsi_oversold":
			next.LTFRSIOversold, err = coerceFloat(raw)
		case "atr_period":
			next.ATRPeriod, err = coerceInt(raw)
		case "initial_stop_atr_mult":
			next.InitialStopATR, err = coerceFloat(raw)
		case "trailing_stop_atr_mult":
			next.TrailingStopATR, err = coerceFloat(raw)
		case "loop_seconds":
			next.LoopSecs, err = coerceInt(raw)
		case "cooldown_bars":
			next.Cooldown, err = coerceInt(raw)
		default:
			return nil, fmt.Errorf("strategy: unknown parameter %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("strategy: parameter %q: %w", key, err)
		}
	}
	return next, nil
}

func DualTimeframeParamDescriptions() map[string]string {
	return map[string]string{
		"symbol":                 "Exchange spot symbol to trade.",
		"htf_interval":           "Higher-timeframe kline interval for the trend filter.",
		"ltf_interval":           "Lower-timeframe kline interval for entries.",
		"ltf_lookback_bars":      "LTF candles fetched per cycle.",
		"htf_ema_fast":           "Fast EMA period on the higher timeframe.",
		"htf_ema_slow":           "Slow EMA period on the higher timeframe.",
		"ltf_ema_period":         "EMA period on the lower timeframe.",
		"ltf_rsi_period":         "RSI period on the lower timeframe (Wilder smoothing).",
		"ltf_rsi_oversold":       "Oversold level the LTF RSI must cross upward through.",
		"atr_period":             "ATR period for stop logic.",
		"initial_stop_atr_mult":  "Initial stop distance at entry: ATR * multiplier.",
		"trailing_stop_atr_mult": "Trailing stop distance while holding: ATR * multiplier.",
		"loop_seconds":           "Polling interval for the live execution loop.",
		"cooldown_bars":          "Minimum bars to wait after a trade before the next entry.",
	}
}

// ParamDescriptions returns the operator documentation for a strategy kind.
func ParamDescriptions(kind Kind) map[string]string {
	switch kind {
	case KindRegimeTrend:
		return RegimeTrendParamDescriptions()
	case KindBreakoutVolume:
		return BreakoutVolumeParamDescriptions()
	case KindMeanReversion:
		return MeanReversionParamDescriptions()
	case KindDualTimeframe:
		return DualTimeframeParamDescriptions()
	default:
		return nil
	}
}

func coerceString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func coerceInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n.String())
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func coerceFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
