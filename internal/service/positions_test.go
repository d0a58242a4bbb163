package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/ledger"
)

func newServiceHarness(t *testing.T) (*PositionService, *ledger.Store, *broker.StaticFeed) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := &broker.StaticFeed{}
	paper := broker.NewPaper(feed, broker.DefaultSizing(), 10_000, zerolog.Nop())
	return NewPositionService(store, paper, zerolog.Nop()), store, feed
}

func TestOpenAndClosePositionLinksTrades(t *testing.T) {
	svc, store, feed := newServiceHarness(t)
	ctx := context.Background()
	feed.SetPrice("BTCUSDT", 110)

	pos, err := svc.OpenPosition(ctx, "BTCUSDT", 2, 100)
	require.NoError(t, err)
	require.NotNil(t, pos.EntryTradeID)

	// Zero close price falls back to the live quote.
	closed, err := svc.ClosePosition(ctx, pos.ID, 0, "manual")
	require.NoError(t, err)
	assert.InDelta(t, 20, closed.UnrealizedPnL, 1e-9)
	require.NotNil(t, closed.ExitTradeID)

	trades, err := store.ListTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "position_close", trades[0].Signal)
	assert.Equal(t, "position_open", trades[1].Signal)

	_, err = svc.ClosePosition(ctx, pos.ID, 0, "again")
	assert.ErrorIs(t, err, ledger.ErrPositionClosed)
}

func TestRefreshPricesMarksOpenPositions(t *testing.T) {
	svc, store, feed := newServiceHarness(t)
	ctx := context.Background()

	pos, err := svc.OpenPosition(ctx, "BTCUSDT", 1, 100)
	require.NoError(t, err)

	feed.SetPrice("BTCUSDT", 150)
	n, err := svc.RefreshPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, got.UnrealizedPnL, 1e-9)
}

func TestAutoCloseFirstMatchWins(t *testing.T) {
	svc, _, feed := newServiceHarness(t)
	ctx := context.Background()

	loser, err := svc.OpenPosition(ctx, "BTCUSDT", 1, 100)
	require.NoError(t, err)
	winner, err := svc.OpenPosition(ctx, "ETHUSDT", 1, 100)
	require.NoError(t, err)
	flat, err := svc.OpenPosition(ctx, "SOLUSDT", 1, 100)
	require.NoError(t, err)

	feed.SetPrice("BTCUSDT", 80)
	feed.SetPrice("ETHUSDT", 130)
	feed.SetPrice("SOLUSDT", 101)

	closed, err := svc.AutoClose(ctx, AutoCloseCriteria{MaxLossPct: 10, MinProfitPct: 20})
	require.NoError(t, err)
	require.Len(t, closed, 2)

	byID := map[string]ledger.Position{}
	for _, p := range closed {
		byID[p.ID] = p
	}
	assert.Contains(t, byID[loser.ID].CloseReason, "Stop loss")
	assert.Contains(t, byID[winner.ID].CloseReason, "Take profit")

	still, err := svc.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, still, 1)
	assert.Equal(t, flat.ID, still[0].ID)
}

func TestAutoCloseMaxDays(t *testing.T) {
	svc, _, feed := newServiceHarness(t)
	ctx := context.Background()
	feed.SetPrice("BTCUSDT", 100)

	pos, err := svc.OpenPosition(ctx, "BTCUSDT", 1, 100)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(72 * time.Hour) }
	closed, err := svc.AutoClose(ctx, AutoCloseCriteria{MaxDaysOpen: 2})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, pos.ID, closed[0].ID)
	assert.Contains(t, closed[0].CloseReason, "Max days reached")
}

func TestSnapshotRecord(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := &broker.StaticFeed{}
	feed.SetPrice("BTCUSDT", 120)
	paper := broker.NewPaper(feed, broker.DefaultSizing(), 1_000, zerolog.Nop())

	psvc := NewPositionService(store, paper, zerolog.Nop())
	ctx := context.Background()
	_, err = psvc.OpenPosition(ctx, "BTCUSDT", 1, 100)
	require.NoError(t, err)
	_, err = psvc.RefreshPrices(ctx)
	require.NoError(t, err)

	snapSvc := NewSnapshotService(store, paper, "USDT", time.Hour, 0, zerolog.Nop())
	require.NoError(t, snapSvc.Record(ctx))

	snaps, err := store.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 1000+120, snaps[0].TotalValue, 1e-9)
	assert.InDelta(t, 120, snaps[0].PositionsValue, 1e-9)
	assert.InDelta(t, 20, snaps[0].UnrealizedPnL, 1e-9)
}
