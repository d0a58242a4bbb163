package strategy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/ledger"
)

func testStore(t *testing.T) *ledger.Store {
	t.Helper()
	st, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type controllerHarness struct {
	feed   *broker.StaticFeed
	paper  *broker.Paper
	store  *ledger.Store
	ctrl   *Controller
	params RegimeTrendParams
}

func newControllerHarness(t *testing.T, cash float64) *controllerHarness {
	t.Helper()
	p := testRegimeTrendParams()
	feed := &broker.StaticFeed{}
	paper := broker.NewPaper(feed, broker.DefaultSizing(), cash, zerolog.Nop())
	store := testStore(t)
	ctrl, err := NewController(KindRegimeTrend, p, paper, store, zerolog.Nop())
	require.NoError(t, err)
	return &controllerHarness{feed: feed, paper: paper, store: store, ctrl: ctrl, params: p}
}

func (h *controllerHarness) setMarket(closes []float64) {
	bars := barsFromCloses(closes, 10)
	h.feed.SetBars(h.params.SymbolName, h.params.Interval, bars)
	h.feed.SetPrice(h.params.SymbolName, bars[len(bars)-1].Close)
}

func TestCycleBuyOpensPositionAndLogs(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	h.setMarket(risingCloses(60, 100, 1))
	ctx := context.Background()

	require.NoError(t, h.ctrl.RunCycle(ctx))

	status := h.ctrl.Status()
	assert.True(t, status.InPosition)
	assert.Greater(t, status.TradeAmount, 0.0)
	assert.Greater(t, status.TrailingStop, 0.0)
	assert.Zero(t, status.BarsSinceTrade)

	trades, err := h.store.ListTrades(ctx, h.params.SymbolName, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.SideBuy, trades[0].Side)
	assert.Contains(t, trades[0].Signal, "regime_trend_buy:bullish_regime_breakout")

	open, err := h.store.ListPositions(ctx, ledger.PositionOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].EntryTradeID)
	assert.Equal(t, trades[0].ID, *open[0].EntryTradeID)

	recs, err := h.store.ListDecisions(ctx, "regime_trend", h.params.SymbolName, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "buy", recs[0].Signal)
	assert.True(t, recs[0].InPosition)
}

func TestCycleSellClosesPositionAndResetsState(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	h.setMarket(risingCloses(60, 100, 1))
	ctx := context.Background()
	require.NoError(t, h.ctrl.RunCycle(ctx))
	require.True(t, h.ctrl.Status().InPosition)

	// Price collapses below the trailing stop.
	h.setMarket(append(risingCloses(59, 100, 1), 80))
	require.NoError(t, h.ctrl.RunCycle(ctx))

	status := h.ctrl.Status()
	assert.False(t, status.InPosition)
	assert.Zero(t, status.TradeAmount)
	assert.Zero(t, status.TrailingStop)
	assert.Zero(t, status.BarsSinceTrade)

	trades, err := h.store.ListTrades(ctx, h.params.SymbolName, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.SideSell, trades[0].Side)

	closed, err := h.store.ListPositions(ctx, ledger.PositionClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "trailing_stop_hit", closed[0].CloseReason)
	require.NotNil(t, closed[0].ExitTradeID)
	assert.Equal(t, trades[0].ID, *closed[0].ExitTradeID)
}

func TestFailedEntryLeavesStateUntouched(t *testing.T) {
	// One dollar of cash sizes every order to zero.
	h := newControllerHarness(t, 1)
	h.setMarket(risingCloses(60, 100, 1))
	ctx := context.Background()

	before := h.ctrl.Status()
	require.NoError(t, h.ctrl.RunCycle(ctx))

	after := h.ctrl.Status()
	assert.False(t, after.InPosition)
	assert.Equal(t, before.BarsSinceTrade+1, after.BarsSinceTrade)

	trades, err := h.store.ListTrades(ctx, h.params.SymbolName, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// The cycle is still logged.
	recs, err := h.store.ListDecisions(ctx, "regime_trend", h.params.SymbolName, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEmptyCandlesStillLogsCycle(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	ctx := context.Background()

	err := h.ctrl.RunCycle(ctx)
	require.Error(t, err)

	recs, err := h.store.ListDecisions(ctx, "regime_trend", h.params.SymbolName, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "hold", recs[0].Signal)
	assert.Equal(t, "no_candle_data", recs[0].Reason)
}

func TestStatusTracksLastDecision(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	ctx := context.Background()

	// Nothing decided yet.
	status := h.ctrl.Status()
	assert.Empty(t, status.LastSignal)
	assert.Empty(t, status.LastReason)
	assert.Empty(t, status.LastIndicators)

	h.setMarket(risingCloses(60, 100, 1))
	require.NoError(t, h.ctrl.RunCycle(ctx))

	status = h.ctrl.Status()
	assert.Equal(t, SignalBuy, status.LastSignal)
	assert.Equal(t, ReasonBullishRegimeBreakout, status.LastReason)
	assert.Contains(t, status.LastIndicators, "close")
	assert.Contains(t, status.LastIndicators, "atr")

	// Hold cycles refresh the snapshot too.
	require.NoError(t, h.ctrl.RunCycle(ctx))
	status = h.ctrl.Status()
	assert.Equal(t, SignalHold, status.LastSignal)
	assert.Equal(t, ReasonInPositionHold, status.LastReason)
}

func TestStatusTracksFailedCycle(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	ctx := context.Background()

	require.Error(t, h.ctrl.RunCycle(ctx))

	status := h.ctrl.Status()
	assert.Equal(t, SignalHold, status.LastSignal)
	assert.Equal(t, ReasonNoCandleData, status.LastReason)
	assert.Empty(t, status.LastIndicators)
}

type failingBroker struct{ broker.Broker }

func (failingBroker) GetBars(context.Context, string, string, int) ([]domain.Bar, error) {
	return nil, errors.New("venue unreachable")
}

func TestFetchErrorLogsMarketDataError(t *testing.T) {
	store := testStore(t)
	p := testRegimeTrendParams()
	ctrl, err := NewController(KindRegimeTrend, p, failingBroker{}, store, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, ctrl.RunCycle(ctx))

	recs, err := store.ListDecisions(ctx, "regime_trend", p.SymbolName, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "market_data_error", recs[0].Reason)
}

func TestRestoreRebuildsLongFromUnmatchedBuys(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	ctx := context.Background()

	// Crash scenario: filled buys with no matching sell survive in the
	// ledger only.
	_, err := h.store.AddTrade(ctx, ledger.Trade{Symbol: h.params.SymbolName, Side: ledger.SideBuy, Quantity: 0.4, Price: 100})
	require.NoError(t, err)
	_, err = h.store.AddTrade(ctx, ledger.Trade{Symbol: h.params.SymbolName, Side: ledger.SideBuy, Quantity: 0.2, Price: 110})
	require.NoError(t, err)

	require.NoError(t, h.ctrl.restore(ctx))

	status := h.ctrl.Status()
	assert.True(t, status.InPosition)
	assert.InDelta(t, 0.6, status.TradeAmount, 1e-9)
}

func TestRestoreStaysFlatWhenTradesNetOut(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	ctx := context.Background()

	_, err := h.store.AddTrade(ctx, ledger.Trade{Symbol: h.params.SymbolName, Side: ledger.SideBuy, Quantity: 1, Price: 100})
	require.NoError(t, err)
	_, err = h.store.AddTrade(ctx, ledger.Trade{Symbol: h.params.SymbolName, Side: ledger.SideSell, Quantity: 1, Price: 105})
	require.NoError(t, err)

	require.NoError(t, h.ctrl.restore(ctx))
	assert.False(t, h.ctrl.Status().InPosition)
}

func TestUpdateParamsSwapsEngineAtomically(t *testing.T) {
	h := newControllerHarness(t, 10_000)

	require.NoError(t, h.ctrl.UpdateParams(map[string]any{"ema_fast_period": 5}))
	assert.Equal(t, 5, h.ctrl.Status().Params["ema_fast_period"])

	err := h.ctrl.UpdateParams(map[string]any{"bogus": true})
	require.Error(t, err)
	assert.Equal(t, 5, h.ctrl.Status().Params["ema_fast_period"])
}

func TestStartStopLifecycle(t *testing.T) {
	h := newControllerHarness(t, 10_000)
	h.setMarket(risingCloses(60, 100, 1))

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.True(t, h.ctrl.Status().Active)
	h.ctrl.Stop()
	assert.False(t, h.ctrl.Status().Active)

	// Stop is idempotent.
	h.ctrl.Stop()
}
