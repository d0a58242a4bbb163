package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAddTradeDefaultsAndList(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.AddTrade(ctx, Trade{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Quantity: 0.5,
		Price:    40000,
		Signal:   "regime_trend_buy:bullish_regime_breakout",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	trades, err := st.ListTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, StatusFilled, got.Status)
	assert.Equal(t, PositionTypeSpot, got.PositionType)
	assert.Equal(t, 20000.0, got.DollarAmount)
	assert.NotZero(t, got.Timestamp)
}

func TestNetPositionsRebuildHoldingsFromTrades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustTrade := func(symbol, side string, qty, price float64) {
		t.Helper()
		_, err := st.AddTrade(ctx, Trade{Symbol: symbol, Side: side, Quantity: qty, Price: price})
		require.NoError(t, err)
	}

	// A buy with no matching sell is a live holding after restart.
	mustTrade("BTCUSDT", SideBuy, 1.0, 100)
	mustTrade("BTCUSDT", SideBuy, 1.0, 120)
	mustTrade("BTCUSDT", SideSell, 0.5, 130)
	mustTrade("ETHUSDT", SideBuy, 2.0, 50)
	mustTrade("ETHUSDT", SideSell, 2.0, 60)

	// Rejected orders never count toward holdings.
	_, err := st.AddTrade(ctx, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 9, Price: 100, Status: "rejected"})
	require.NoError(t, err)

	np, err := st.NetPositionFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, np.Quantity, 1e-9)
	assert.InDelta(t, 100+120-65, np.DollarAmount, 1e-9)
	assert.InDelta(t, 155.0/1.5, np.AveragePrice, 1e-9)

	flat, err := st.NetPositionFor(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0, flat.Quantity, 1e-9)

	missing, err := st.NetPositionFor(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Zero(t, missing.Quantity)
}

func TestPositionLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	entryID := int64(7)
	p, err := st.CreatePosition(ctx, Position{
		Symbol:       "BTCUSDT",
		EntryPrice:   100,
		Quantity:     2,
		EntryTradeID: &entryID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	assert.Equal(t, PositionOpen, p.Status)
	assert.Equal(t, 200.0, p.DollarAmount)

	got, err := st.GetPosition(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	require.NotNil(t, got.EntryTradeID)
	assert.Equal(t, entryID, *got.EntryTradeID)

	n, err := st.UpdateOpenPositionPrices(ctx, map[string]float64{"BTCUSDT": 110})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = st.GetPosition(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20, got.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10, got.UnrealizedPnLPc, 1e-9)

	exitID := int64(9)
	closed, err := st.ClosePosition(ctx, p.ID, 120, &exitID, "Take profit: 20%")
	require.NoError(t, err)
	assert.Equal(t, PositionClosed, closed.Status)
	assert.InDelta(t, 40, closed.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 20, closed.UnrealizedPnLPc, 1e-9)
	require.NotNil(t, closed.CloseTime)
	assert.Equal(t, "Take profit: 20%", closed.CloseReason)

	_, err = st.ClosePosition(ctx, p.ID, 120, nil, "")
	assert.ErrorIs(t, err, ErrPositionClosed)

	_, err = st.ClosePosition(ctx, "no-such-id", 120, nil, "")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestSummaryWinRateAndExtremes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	open := func(entry, qty float64) Position {
		p, err := st.CreatePosition(ctx, Position{Symbol: "BTCUSDT", EntryPrice: entry, Quantity: qty})
		require.NoError(t, err)
		return p
	}

	winner := open(100, 1)
	loser := open(100, 1)
	stillOpen := open(100, 1)
	_ = stillOpen

	_, err := st.ClosePosition(ctx, winner.ID, 130, nil, "")
	require.NoError(t, err)
	_, err = st.ClosePosition(ctx, loser.ID, 90, nil, "")
	require.NoError(t, err)

	sum, err := st.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OpenCount)
	assert.Equal(t, 2, sum.ClosedCount)
	assert.InDelta(t, 20, sum.RealizedPnL, 1e-9)
	assert.InDelta(t, 50, sum.WinRatePercent, 1e-9)
	assert.InDelta(t, 30, sum.BestTradePnL, 1e-9)
	assert.InDelta(t, -10, sum.WorstTradePnL, 1e-9)
}

func TestDecisionLogAppend(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.AddDecision(ctx, DecisionRecord{
		Symbol:     "BTCUSDT",
		Strategy:   "regime_trend",
		Signal:     "hold",
		Reason:     "cooldown",
		ClosePrice: 101.5,
	}, map[string]float64{"ema_fast": 105, "ema_slow": 100}, map[string]any{"cooldown_bars": 2})
	require.NoError(t, err)

	// Failure cycles are logged too, with no indicators.
	_, err = st.AddDecision(ctx, DecisionRecord{
		Symbol:   "BTCUSDT",
		Strategy: "regime_trend",
		Signal:   "hold",
		Reason:   "market_data_error",
	}, nil, nil)
	require.NoError(t, err)

	recs, err := st.ListDecisions(ctx, "regime_trend", "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "market_data_error", recs[0].Reason)
	assert.Equal(t, "{}", recs[0].Indicators)

	ind, err := recs[1].DecisionIndicators()
	require.NoError(t, err)
	assert.Equal(t, 105.0, ind["ema_fast"])

	n, err := st.CountDecisions(ctx, "regime_trend", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSnapshotRetention(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	st.now = func() time.Time { return base.Add(-40 * 24 * time.Hour) }
	_, err := st.AddSnapshot(ctx, Snapshot{TotalValue: 1000}, nil)
	require.NoError(t, err)

	st.now = func() time.Time { return base }
	_, err = st.AddSnapshot(ctx, Snapshot{TotalValue: 1100}, map[string]any{"BTCUSDT": 1100})
	require.NoError(t, err)

	removed, err := st.PruneSnapshots(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	snaps, err := st.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1100.0, snaps[0].TotalValue)
}

func TestPresetUpsertRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.GetPreset(ctx, "regime_trend", "BTCUSDT")
	assert.ErrorIs(t, err, ErrPresetNotFound)

	require.NoError(t, st.SavePreset(ctx, "regime_trend", "BTCUSDT", map[string]any{"ema_fast_period": 21}))
	require.NoError(t, st.SavePreset(ctx, "regime_trend", "BTCUSDT", map[string]any{"ema_fast_period": 34}))

	p, err := st.GetPreset(ctx, "regime_trend", "BTCUSDT")
	require.NoError(t, err)
	overrides, err := p.Overrides()
	require.NoError(t, err)
	assert.Equal(t, float64(34), overrides["ema_fast_period"])

	all, err := st.ListPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.DeletePreset(ctx, "regime_trend", "BTCUSDT"))
	_, err = st.GetPreset(ctx, "regime_trend", "BTCUSDT")
	assert.ErrorIs(t, err, ErrPresetNotFound)
}
