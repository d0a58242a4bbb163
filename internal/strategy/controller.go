package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/ledger"
	"github.com/coinpilot/coinpilot/internal/metrics"
)

// Controller owns the live trading loop for one strategy on one symbol:
// fetch, decide, act, log. Exactly one decision-log row is written per
// cycle, including cycles that fail before the engine can run.
type Controller struct {
	mu     sync.Mutex
	kind   Kind
	params Params
	engine Engine

	broker broker.Broker
	store  *ledger.Store
	log    zerolog.Logger

	inPosition     bool
	tradeAmount    float64
	trailingStop   float64
	barsSinceTrade int
	positionID     string

	active         bool
	lastSignal     Signal
	lastReason     Reason
	lastIndicators map[string]float64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewController builds the controller with its engine. The cooldown counter
// starts satisfied so a fresh process may enter immediately.
func NewController(kind Kind, params Params, b broker.Broker, store *ledger.Store, log zerolog.Logger) (*Controller, error) {
	engine, err := NewEngine(kind, params)
	if err != nil {
		return nil, err
	}
	return &Controller{
		kind:           kind,
		params:         params,
		engine:         engine,
		broker:         b,
		store:          store,
		log:            log.With().Str("strategy", string(kind)).Str("symbol", params.Symbol()).Logger(),
		barsSinceTrade: params.CooldownBars(),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// restore rebuilds position state from the ledger: the filled-trade
// aggregation is authoritative after a crash or restart.
func (c *Controller) restore(ctx context.Context) error {
	np, err := c.store.NetPositionFor(ctx, c.params.Symbol())
	if err != nil {
		return fmt.Errorf("restore holdings: %w", err)
	}
	if np.Quantity <= 0 {
		return nil
	}
	c.inPosition = true
	c.tradeAmount = np.Quantity
	c.log.Info().Float64("qty", np.Quantity).Float64("avg_price", np.AveragePrice).
		Msg("restored long position from ledger")

	open, err := c.store.ListPositions(ctx, ledger.PositionOpen)
	if err != nil {
		return fmt.Errorf("restore position rows: %w", err)
	}
	for _, p := range open {
		if p.Symbol == c.params.Symbol() {
			c.positionID = p.ID
			break
		}
	}
	return nil
}

// Start restores state and runs the loop until Stop or ctx cancellation.
// A failed cycle is logged and the loop keeps going.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.restore(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	go func() {
		defer close(c.doneCh)
		defer func() {
			c.mu.Lock()
			c.active = false
			c.mu.Unlock()
		}()
		c.log.Info().Int("loop_seconds", c.params.LoopSeconds()).Msg("strategy loop started")
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			if err := c.RunCycle(ctx); err != nil {
				c.log.Error().Err(err).Msg("cycle failed")
			}
			c.mu.Lock()
			sleep := time.Duration(c.params.LoopSeconds()) * time.Second
			c.mu.Unlock()
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}()
	return nil
}

// Stop asks the loop to exit at the next check point and waits for it.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Controller) fetch(ctx context.Context, engine Engine) (MarketData, error) {
	var data MarketData
	for i, req := range engine.Requests() {
		bars, err := c.broker.GetBars(ctx, c.params.Symbol(), req.Interval, req.Limit)
		if err != nil {
			return MarketData{}, err
		}
		if i == 0 {
			data.Bars = bars
		} else {
			data.HTFBars = bars
		}
	}
	return data, nil
}

// RunCycle executes a single fetch-decide-act pass.
func (c *Controller) RunCycle(ctx context.Context) error {
	c.mu.Lock()
	engine := c.engine
	params := c.params
	c.mu.Unlock()

	data, err := c.fetch(ctx, engine)
	if err != nil {
		c.recordFailure(ctx, params, ReasonMarketDataError)
		return fmt.Errorf("fetch market data: %w", err)
	}
	if len(data.Bars) == 0 {
		c.recordFailure(ctx, params, ReasonNoCandleData)
		return fmt.Errorf("no candle data for %s", params.Symbol())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := PositionState{InPosition: c.inPosition, Stop: c.trailingStop, BarsSinceTrade: c.barsSinceTrade}
	decision := engine.Decide(data, state)
	c.lastSignal = decision.Signal
	c.lastReason = decision.Reason
	c.lastIndicators = decision.Indicators

	switch decision.Signal {
	case SignalBuy:
		c.handleBuy(ctx, params, decision)
	case SignalSell:
		c.handleSell(ctx, params, decision)
	default:
		if c.inPosition {
			c.trailingStop = decision.Stop
		}
		c.barsSinceTrade++
	}

	c.recordDecision(ctx, params, decision)
	metrics.CyclesTotal.WithLabelValues(string(c.kind), params.Symbol(), string(decision.Signal)).Inc()
	metrics.TrailingStop.WithLabelValues(string(c.kind), params.Symbol()).Set(c.trailingStop)
	return nil
}

// handleBuy sizes and places the entry. Any failure leaves position state
// untouched; the cycle still counts toward the cooldown.
func (c *Controller) handleBuy(ctx context.Context, params Params, decision Decision) {
	symbol := params.Symbol()
	if c.inPosition {
		c.barsSinceTrade++
		return
	}
	qty, err := c.broker.ComputeSafeOrderSize(ctx, symbol, decision.Close)
	if err != nil || qty <= 0 {
		c.log.Warn().Err(err).Float64("qty", qty).Msg("entry skipped: no safe order size")
		c.barsSinceTrade++
		return
	}
	res, err := c.broker.PlaceOrder(ctx, broker.OrderRequest{Symbol: symbol, Side: broker.SideBuy, Quantity: qty})
	if err != nil {
		c.log.Error().Err(err).Msg("buy order failed")
		metrics.OrdersTotal.WithLabelValues(symbol, broker.SideBuy, "failed").Inc()
		c.barsSinceTrade++
		return
	}
	fillPrice := res.Price
	if fillPrice == 0 {
		fillPrice = decision.Close
	}
	tradeID, err := c.store.AddTrade(ctx, ledger.Trade{
		Symbol:   symbol,
		Side:     ledger.SideBuy,
		Quantity: qty,
		Price:    fillPrice,
		Signal:   string(c.kind) + "_buy:" + string(decision.Reason),
		OrderID:  res.OrderID,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("record buy trade failed")
	} else if pos, perr := c.store.CreatePosition(ctx, ledger.Position{
		Symbol:       symbol,
		EntryPrice:   fillPrice,
		Quantity:     qty,
		EntryTradeID: &tradeID,
	}); perr != nil {
		c.log.Error().Err(perr).Msg("create position row failed")
	} else {
		c.positionID = pos.ID
		metrics.OpenPositions.Inc()
	}

	c.inPosition = true
	c.tradeAmount = qty
	c.trailingStop = decision.Stop
	c.barsSinceTrade = 0
	metrics.OrdersTotal.WithLabelValues(symbol, broker.SideBuy, "filled").Inc()
	c.log.Info().Str("reason", string(decision.Reason)).Float64("qty", qty).
		Float64("price", fillPrice).Float64("stop", decision.Stop).Msg("entered long")
}

// handleSell exits the full held quantity.
func (c *Controller) handleSell(ctx context.Context, params Params, decision Decision) {
	symbol := params.Symbol()
	if !c.inPosition || c.tradeAmount <= 0 {
		c.barsSinceTrade++
		return
	}
	res, err := c.broker.PlaceOrder(ctx, broker.OrderRequest{Symbol: symbol, Side: broker.SideSell, Quantity: c.tradeAmount})
	if err != nil {
		c.log.Error().Err(err).Msg("sell order failed")
		metrics.OrdersTotal.WithLabelValues(symbol, broker.SideSell, "failed").Inc()
		c.trailingStop = decision.Stop
		c.barsSinceTrade++
		return
	}
	fillPrice := res.Price
	if fillPrice == 0 {
		fillPrice = decision.Close
	}
	tradeID, err := c.store.AddTrade(ctx, ledger.Trade{
		Symbol:   symbol,
		Side:     ledger.SideSell,
		Quantity: c.tradeAmount,
		Price:    fillPrice,
		Signal:   string(c.kind) + "_sell:" + string(decision.Reason),
		OrderID:  res.OrderID,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("record sell trade failed")
	}
	if c.positionID != "" {
		if _, cerr := c.store.ClosePosition(ctx, c.positionID, fillPrice, &tradeID, string(decision.Reason)); cerr != nil {
			c.log.Error().Err(cerr).Str("position_id", c.positionID).Msg("close position row failed")
		} else {
			metrics.OpenPositions.Dec()
		}
	}

	c.log.Info().Str("reason", string(decision.Reason)).Float64("qty", c.tradeAmount).
		Float64("price", fillPrice).Msg("exited long")
	c.inPosition = false
	c.tradeAmount = 0
	c.trailingStop = 0
	c.positionID = ""
	c.barsSinceTrade = 0
	metrics.OrdersTotal.WithLabelValues(symbol, broker.SideSell, "filled").Inc()
}

func (c *Controller) recordDecision(ctx context.Context, params Params, decision Decision) {
	_, err := c.store.AddDecision(ctx, ledger.DecisionRecord{
		Symbol:       params.Symbol(),
		Strategy:     string(c.kind),
		Signal:       string(decision.Signal),
		Reason:       string(decision.Reason),
		ClosePrice:   decision.Close,
		TrailingStop: c.trailingStop,
		InPosition:   c.inPosition,
	}, decision.Indicators, params.Map())
	if err != nil {
		c.log.Error().Err(err).Msg("decision log write failed")
	}
}

// recordFailure writes the mandatory decision row for a cycle that died
// before the engine could run.
func (c *Controller) recordFailure(ctx context.Context, params Params, reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSignal = SignalHold
	c.lastReason = reason
	c.lastIndicators = nil
	c.recordDecision(ctx, params, Decision{Signal: SignalHold, Reason: reason})
	metrics.CycleErrorsTotal.WithLabelValues(string(c.kind), params.Symbol(), string(reason)).Inc()
}

// Status is a point-in-time snapshot of controller state.
type Status struct {
	Strategy       string             `json:"strategy"`
	Symbol         string             `json:"symbol"`
	Active         bool               `json:"active"`
	InPosition     bool               `json:"in_position"`
	TradeAmount    float64            `json:"trade_amount"`
	TrailingStop   float64            `json:"trailing_stop"`
	BarsSinceTrade int                `json:"bars_since_trade"`
	LastSignal     Signal             `json:"last_signal"`
	LastReason     Reason             `json:"last_reason"`
	LastIndicators map[string]float64 `json:"last_indicators"`
	Params         map[string]any     `json:"params"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	ind := make(map[string]float64, len(c.lastIndicators))
	for k, v := range c.lastIndicators {
		ind[k] = v
	}
	return Status{
		Strategy:       string(c.kind),
		Symbol:         c.params.Symbol(),
		Active:         c.active,
		InPosition:     c.inPosition,
		TradeAmount:    c.tradeAmount,
		TrailingStop:   c.trailingStop,
		BarsSinceTrade: c.barsSinceTrade,
		LastSignal:     c.lastSignal,
		LastReason:     c.lastReason,
		LastIndicators: ind,
		Params:         c.params.Map(),
	}
}

// UpdateParams layers a patch over the live parameters and swaps in a fresh
// engine atomically. Position state carries over unchanged.
func (c *Controller) UpdateParams(patch map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := c.params.Apply(patch)
	if err != nil {
		return err
	}
	engine, err := NewEngine(c.kind, next)
	if err != nil {
		return err
	}
	c.params = next
	c.engine = engine
	c.log.Info().Interface("patch", patch).Msg("parameters updated")
	return nil
}
