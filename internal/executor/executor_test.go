package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

type execHarness struct {
	gateway   *fakeGateway
	positions *fakePositionStore
	orders    *fakeOrderStore
	trades    *fakeTradeStore
	exec      *Executor
}

func newExecHarness(t *testing.T, cfg Config) *execHarness {
	t.Helper()
	h := &execHarness{
		gateway:   newFakeGateway(),
		positions: newFakePositionStore(),
		orders:    newFakeOrderStore(),
		trades:    &fakeTradeStore{},
	}
	h.exec = New(h.gateway, h.positions, h.orders, h.trades, cfg, testLogger())
	h.exec.sleep = noSleep
	return h
}

func (h *execHarness) addPosition(t *testing.T, pos domain.Position) domain.Position {
	t.Helper()
	added, err := h.positions.Add(context.Background(), pos)
	require.NoError(t, err)
	require.True(t, added)
	return pos
}

func pendingPosition(id string) domain.Position {
	return domain.Position{
		ID:         id,
		MarketID:   "KXRAIN-26SEP01",
		Side:       domain.SideYes,
		EntryPrice: 0.60,
		Quantity:   100,
		Live:       false,
		Tracked:    true,
		Status:     domain.PositionStatusOpen,
		Strategy:   domain.StrategyAIDecision,
		OpenedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExecuteOpenPaperFillsAtRequestedPrice(t *testing.T) {
	h := newExecHarness(t, Config{Paper: true})
	pos := h.addPosition(t, pendingPosition("pos-1"))

	err := h.exec.ExecuteOpen(context.Background(), pos)
	require.NoError(t, err)

	got := h.positions.get("pos-1")
	assert.True(t, got.Live)
	assert.Equal(t, 0.60, got.EntryPrice)

	orders := h.orders.byAction(domain.OrderActionBuy)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusFilled, orders[0].Status)
	assert.Equal(t, "paper", orders[0].ExchangeOrderID)

	assert.Empty(t, h.gateway.placedOrders(), "paper mode must not touch the exchange")
}

func TestExecuteOpenLiveConfirmsFill(t *testing.T) {
	h := newExecHarness(t, Config{})
	pos := h.addPosition(t, pendingPosition("pos-1"))
	h.gateway.fills[pos.MarketID] = []domain.Fill{
		{OrderID: "ex-" + pos.MarketID, MarketID: pos.MarketID, Price: 0.59},
	}

	err := h.exec.ExecuteOpen(context.Background(), pos)
	require.NoError(t, err)

	got := h.positions.get("pos-1")
	assert.True(t, got.Live)
	assert.Equal(t, 0.59, got.EntryPrice, "entry must be the confirmed fill, not the limit")

	placed := h.gateway.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, domain.OrderActionBuy, placed[0].Action)
	require.NotNil(t, placed[0].LimitPrice)
	assert.Equal(t, 0.60, *placed[0].LimitPrice)
}

func TestExecuteOpenFallsBackToRequestedPrice(t *testing.T) {
	h := newExecHarness(t, Config{FillPollAttempts: 2, FillPollInterval: time.Millisecond})
	pos := h.addPosition(t, pendingPosition("pos-1"))

	// The fills endpoint never reports the order.
	err := h.exec.ExecuteOpen(context.Background(), pos)
	require.NoError(t, err)

	got := h.positions.get("pos-1")
	assert.True(t, got.Live)
	assert.Equal(t, 0.60, got.EntryPrice)
}

func TestExecuteOpenRejectsActiveOrder(t *testing.T) {
	h := newExecHarness(t, Config{Paper: true})
	pos := h.addPosition(t, pendingPosition("pos-1"))
	require.NoError(t, h.orders.Add(context.Background(), domain.Order{
		ID:         "ord-0",
		PositionID: pos.ID,
		Status:     domain.OrderStatusPending,
	}))

	err := h.exec.ExecuteOpen(context.Background(), pos)
	require.Error(t, err)
	assert.True(t, IsActiveOrderErr(err))
	assert.True(t, errors.Is(err, domain.ErrActiveOrder))

	// Only the pre-existing order exists; no new one was written.
	all, err := h.orders.ListByPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestExecuteOpenPlacementFailure(t *testing.T) {
	h := newExecHarness(t, Config{})
	pos := h.addPosition(t, pendingPosition("pos-1"))
	h.gateway.placeErrs[pos.MarketID] = errors.New("insufficient balance")

	err := h.exec.ExecuteOpen(context.Background(), pos)
	require.Error(t, err)

	got := h.positions.get("pos-1")
	assert.False(t, got.Live, "failed placement must leave the row for the reconciler")

	orders := h.orders.byAction(domain.OrderActionBuy)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusFailed, orders[0].Status)
}

func TestExecuteCloseRecordsTrade(t *testing.T) {
	h := newExecHarness(t, Config{Paper: true, CloseDiscount: 0.05})
	pos := pendingPosition("pos-1")
	pos.EntryPrice = 0.40
	pos.Live = true
	h.addPosition(t, pos)

	err := h.exec.ExecuteClose(context.Background(), pos, 0.55, "take_profit")
	require.NoError(t, err)

	got := h.positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 0.55, *got.ExitPrice, "ledger close uses the evaluator price")

	sells := h.orders.byAction(domain.OrderActionSell)
	require.Len(t, sells, 1)
	assert.InDelta(t, 0.55*0.95, sells[0].RequestedPrice, 1e-9)

	logs := h.trades.all()
	require.Len(t, logs, 1)
	assert.Equal(t, 15.0, logs[0].PnL)
	assert.Equal(t, "take_profit", logs[0].ExitReason)
	assert.Equal(t, domain.StrategyAIDecision, logs[0].Strategy)
	require.NotNil(t, logs[0].Slippage)
	assert.InDelta(t, 0.55*0.95-0.55, *logs[0].Slippage, 1e-9)
}

func TestExecuteCloseUntrackedSkipsTradeLog(t *testing.T) {
	h := newExecHarness(t, Config{Paper: true})
	pos := pendingPosition("pos-1")
	pos.Live = true
	pos.Tracked = false
	pos.Strategy = domain.StrategyLegacyUntracked
	h.addPosition(t, pos)

	err := h.exec.ExecuteClose(context.Background(), pos, 0.70, "stop_loss")
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, h.positions.get("pos-1").Status)
	assert.Empty(t, h.trades.all())
}

func TestExecuteCloseFloorsLimitPrice(t *testing.T) {
	h := newExecHarness(t, Config{Paper: true})
	pos := pendingPosition("pos-1")
	pos.Live = true
	h.addPosition(t, pos)

	err := h.exec.ExecuteClose(context.Background(), pos, 0.005, "market_resolution")
	require.NoError(t, err)

	sells := h.orders.byAction(domain.OrderActionSell)
	require.Len(t, sells, 1)
	assert.Equal(t, 0.01, sells[0].RequestedPrice)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 0.05, cfg.CloseDiscount)
	assert.Equal(t, 3, cfg.FillPollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.FillPollInterval)
}
