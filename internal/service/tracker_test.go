package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/executor"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/exits"
)

type trackerHarness struct {
	gateway   *fakeGateway
	positions *fakePositionStore
	orders    *fakeOrderStore
	trades    *fakeTradeStore
	cache     *fakeQuoteCache
	notifier  *fakeNotifier
	tracker   *Tracker
	clock     time.Time
}

func newTrackerHarness(t *testing.T) *trackerHarness {
	t.Helper()
	h := &trackerHarness{
		gateway:   newFakeGateway(),
		positions: newFakePositionStore(),
		orders:    newFakeOrderStore(),
		trades:    &fakeTradeStore{},
		cache:     newFakeQuoteCache(),
		notifier:  &fakeNotifier{},
		clock:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	exec := executor.New(h.gateway, h.positions, h.orders, h.trades,
		executor.Config{Paper: true}, testLogger())
	h.tracker = NewTracker(h.positions, h.gateway, h.cache, exec,
		exits.NewEvaluator(0.10), h.notifier, time.Minute, testLogger())
	h.tracker.now = func() time.Time { return h.clock }
	return h
}

func (h *trackerHarness) trackedPosition(id, marketID string) domain.Position {
	stop, take := 0.54, 0.80
	hold := 48 * time.Hour
	pos := domain.Position{
		ID:              id,
		MarketID:        marketID,
		Side:            domain.SideYes,
		EntryPrice:      0.60,
		Quantity:        100,
		Live:            true,
		Tracked:         true,
		Status:          domain.PositionStatusOpen,
		Strategy:        domain.StrategyAIDecision,
		StopLossPrice:   &stop,
		TakeProfitPrice: &take,
		MaxHold:         &hold,
		OpenedAt:        h.clock.Add(-time.Hour),
	}
	h.positions.put(pos)
	return pos
}

func TestTickClosesOnStopLoss(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	h.gateway.quotes["KXA-26"] = domain.MarketQuote{
		MarketID: "KXA-26", YesBid: 0.50, Status: domain.MarketStatusOpen,
	}

	require.NoError(t, h.tracker.Tick(context.Background()))

	got := h.positions.get(pos.ID)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 0.50, *got.ExitPrice)

	logs := h.trades.all()
	require.Len(t, logs, 1)
	assert.Equal(t, "stop_loss", logs[0].ExitReason)
	assert.Equal(t, []string{"position_closed"}, h.notifier.sent())

	// The alert alone must be enough to reconstruct what was closed and why.
	note := h.notifier.last()
	assert.Equal(t, "KXA-26", note.MarketID)
	assert.Equal(t, domain.SideYes, note.Side)
	assert.Equal(t, 0.50, note.Price)
	assert.Equal(t, int64(100), note.Quantity)
	require.NotNil(t, note.PnL)
	assert.InDelta(t, -10.0, *note.PnL, 1e-9)
	assert.Contains(t, note.Message, "stop_loss")
}

func TestTickHoldsInsideLevels(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	h.gateway.quotes["KXA-26"] = domain.MarketQuote{
		MarketID: "KXA-26", YesBid: 0.62, Status: domain.MarketStatusOpen,
	}

	require.NoError(t, h.tracker.Tick(context.Background()))

	assert.Equal(t, domain.PositionStatusOpen, h.positions.get(pos.ID).Status)
	assert.Empty(t, h.trades.all())
	assert.Empty(t, h.notifier.sent())
}

func TestTickSkipsNonLivePositions(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	pos.Live = false
	h.positions.put(pos)

	require.NoError(t, h.tracker.Tick(context.Background()))
	assert.Zero(t, h.gateway.marketCalls, "shadows belong to the reconciler")
}

func TestTickBackfillsExitLevels(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	pos.StopLossPrice = nil
	pos.TakeProfitPrice = nil
	pos.MaxHold = nil
	h.positions.put(pos)
	h.gateway.quotes["KXA-26"] = domain.MarketQuote{
		MarketID:  "KXA-26",
		YesBid:    0.60,
		Status:    domain.MarketStatusOpen,
		ExpiresAt: h.clock.Add(48 * time.Hour),
	}

	require.NoError(t, h.tracker.Tick(context.Background()))

	got := h.positions.get(pos.ID)
	require.NotNil(t, got.StopLossPrice)
	require.NotNil(t, got.TakeProfitPrice)
	require.NotNil(t, got.MaxHold)
	assert.InDelta(t, 0.60*0.90, *got.StopLossPrice, 1e-9)
	assert.Equal(t, 24*time.Hour, *got.MaxHold)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestTickServesQuoteFromCache(t *testing.T) {
	h := newTrackerHarness(t)
	h.trackedPosition("pos-1", "KXA-26")
	require.NoError(t, h.cache.SetQuote(context.Background(), domain.MarketQuote{
		MarketID: "KXA-26", YesBid: 0.62, Status: domain.MarketStatusOpen,
	}))

	require.NoError(t, h.tracker.Tick(context.Background()))
	assert.Zero(t, h.gateway.marketCalls, "fresh cached quote must not hit REST")
}

func TestTickCacheMissFallsBackToGateway(t *testing.T) {
	h := newTrackerHarness(t)
	h.trackedPosition("pos-1", "KXA-26")
	h.gateway.quotes["KXA-26"] = domain.MarketQuote{
		MarketID: "KXA-26", YesBid: 0.62, Status: domain.MarketStatusOpen,
	}

	before := h.cache.sets
	require.NoError(t, h.tracker.Tick(context.Background()))

	assert.Equal(t, 1, h.gateway.marketCalls)
	assert.Equal(t, before+1, h.cache.sets, "the REST quote is written back")
}

func TestTickLeavesVanishedMarketForReconciler(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	// No quote anywhere: gateway returns ErrNotFound.

	require.NoError(t, h.tracker.Tick(context.Background()))
	assert.Equal(t, domain.PositionStatusOpen, h.positions.get(pos.ID).Status)
}

func TestTickDefersCloseWhileOrderActive(t *testing.T) {
	h := newTrackerHarness(t)
	pos := h.trackedPosition("pos-1", "KXA-26")
	h.gateway.quotes["KXA-26"] = domain.MarketQuote{
		MarketID: "KXA-26", YesBid: 0.50, Status: domain.MarketStatusOpen,
	}
	require.NoError(t, h.orders.Add(context.Background(), domain.Order{
		ID:         "ord-1",
		PositionID: pos.ID,
		Status:     domain.OrderStatusPending,
	}))

	require.NoError(t, h.tracker.Tick(context.Background()))

	assert.Equal(t, domain.PositionStatusOpen, h.positions.get(pos.ID).Status)
	assert.Empty(t, h.notifier.sent())
}

func TestSnapshotRecordsBalance(t *testing.T) {
	gateway := newFakeGateway()
	gateway.balance = 123456
	balances := &fakeBalanceStore{}
	bt := NewBalanceTracker(gateway, balances, time.Minute, testLogger())

	require.NoError(t, bt.Snapshot(context.Background()))

	snap, err := balances.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), snap.BalanceCents)
}

type fakeArchiveBackend struct {
	trades, balances int64
	cutoffs          []time.Time
}

func (b *fakeArchiveBackend) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	b.cutoffs = append(b.cutoffs, before)
	return b.trades, nil
}

func (b *fakeArchiveBackend) ArchiveBalances(ctx context.Context, before time.Time) (int64, error) {
	return b.balances, nil
}

func TestRotateUsesRetentionCutoff(t *testing.T) {
	backend := &fakeArchiveBackend{trades: 5, balances: 2}
	rot := NewArchiveRotator(backend, time.Hour, 30, testLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rot.now = func() time.Time { return now }

	require.NoError(t, rot.Rotate(context.Background()))

	require.Len(t, backend.cutoffs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), backend.cutoffs[0])
}
