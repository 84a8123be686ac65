package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadStateEmptyDatabase(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	snap, err := store.LoadState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap, "absent state is not an error")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	closedAt := time.Date(2026, 8, 28, 20, 15, 0, 0, time.UTC)
	in := &domain.Snapshot{
		Wins:           3,
		Losses:         1,
		Balance:        10097.5,
		TodayTradeDone: true,
		LastResetDate:  "2026-08-28",
		History: []domain.TradeRecord{
			{DealID: 502, Side: domain.SideShort, Profit: -12.5, Balance: 10097.5, ClosedAt: closedAt},
			{DealID: 501, Side: domain.SideLong, Profit: 97, Balance: 10110, ClosedAt: closedAt.Add(-time.Hour)},
		},
		Config: domain.StrategyConfig{
			EntryOffset: 10, LongTakeProfit: 30, ShortTakeProfit: 30,
			LongStopLoss: 60, ShortStopLoss: 60, LotSize: 1,
			WatchAfterOpenMin: 5, BaselineOffsetMin: 1,
		},
	}
	require.NoError(t, store.SaveState(ctx, in))

	out, err := store.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.Wins, out.Wins)
	assert.Equal(t, in.Losses, out.Losses)
	assert.Equal(t, in.Balance, out.Balance)
	assert.Equal(t, in.TodayTradeDone, out.TodayTradeDone)
	assert.Equal(t, in.LastResetDate, out.LastResetDate)
	assert.Equal(t, in.Config, out.Config)

	require.Len(t, out.History, 2)
	// Newest first.
	assert.Equal(t, int64(502), out.History[0].DealID)
	assert.Equal(t, domain.SideShort, out.History[0].Side)
	assert.InDelta(t, -12.5, out.History[0].Profit, 1e-9)
	assert.WithinDuration(t, closedAt, out.History[0].ClosedAt, time.Second)
}

func TestSaveStateOverwritesSingleRow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.Snapshot{Wins: 1, LastResetDate: "2026-08-27", Config: domain.StrategyConfig{LotSize: 1}}
	second := &domain.Snapshot{Wins: 2, TodayTradeDone: true, LastResetDate: "2026-08-28", Config: domain.StrategyConfig{LotSize: 2}}
	require.NoError(t, store.SaveState(ctx, first))
	require.NoError(t, store.SaveState(ctx, second))

	out, err := store.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 2, out.Wins)
	assert.True(t, out.TodayTradeDone)
	assert.Equal(t, "2026-08-28", out.LastResetDate)
	assert.Equal(t, float64(2), out.Config.LotSize)
}

func TestTradeHistoryDeduplicatedByDealID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	rec := domain.TradeRecord{DealID: 700, Side: domain.SideLong, Profit: 5, Balance: 10005, ClosedAt: time.Now().UTC()}
	snap := &domain.Snapshot{LastResetDate: "2026-08-28", History: []domain.TradeRecord{rec}, Config: domain.StrategyConfig{LotSize: 1}}

	require.NoError(t, store.SaveState(ctx, snap))
	require.NoError(t, store.SaveState(ctx, snap))

	out, err := store.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.History, 1)
}
