package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

type legHarness struct {
	gateway   *fakeGateway
	positions *fakePositionStore
	orders    *fakeOrderStore
	trades    *fakeTradeStore
	meta      *fakeMetaStore
	notifier  *fakeNotifier
	coord     *Coordinator
}

func newLegHarness(t *testing.T) *legHarness {
	t.Helper()
	h := &legHarness{
		gateway:   newFakeGateway(),
		positions: newFakePositionStore(),
		orders:    newFakeOrderStore(),
		trades:    &fakeTradeStore{},
		meta:      newFakeMetaStore(),
		notifier:  &fakeNotifier{},
	}

	// Liquidation goes through the ledger only, so partial-containment tests
	// do not need sell-side exchange plumbing.
	exec := New(h.gateway, h.positions, h.orders, h.trades, Config{Paper: true}, testLogger())
	exec.sleep = noSleep

	h.coord = NewCoordinator(h.gateway, h.positions, h.orders, h.meta, exec, h.notifier,
		MultiLegConfig{
			PriceTolerance:   0.02,
			MinDepth:         1,
			FillPollAttempts: 1,
			FillPollInterval: time.Millisecond,
		}, testLogger())
	h.coord.sleep = noSleep

	var seq atomic.Int64
	h.coord.newID = func() string {
		return fmt.Sprintf("id-%d", seq.Add(1))
	}
	return h
}

// wireLeg makes the market tradable at the leg's price: a quote inside
// tolerance and enough resting depth on the opposite book.
func (h *legHarness) wireLeg(leg Leg, filled bool) {
	h.gateway.quotes[leg.MarketID] = domain.MarketQuote{
		MarketID: leg.MarketID,
		YesBid:   leg.Price - 0.02,
		YesAsk:   leg.Price,
		NoBid:    1.0 - leg.Price,
		NoAsk:    1.0 - leg.Price + 0.02,
		Status:   domain.MarketStatusOpen,
	}
	h.gateway.books[leg.MarketID] = domain.Orderbook{
		MarketID: leg.MarketID,
		Yes:      []domain.OrderbookLevel{{Price: leg.Price - 0.02, Quantity: 100}},
		No:       []domain.OrderbookLevel{{Price: 1.0 - leg.Price, Quantity: 100}},
	}
	if filled {
		h.gateway.fills[leg.MarketID] = []domain.Fill{
			{OrderID: "ex-" + leg.MarketID, MarketID: leg.MarketID, Side: leg.Side, Price: leg.Price},
		}
	}
}

func twoLegs() []Leg {
	return []Leg{
		{MarketID: "KXLEGA-26", Side: domain.SideYes, Price: 0.30, Quantity: 10},
		{MarketID: "KXLEGB-26", Side: domain.SideNo, Price: 0.65, Quantity: 10},
	}
}

// wireLegs maps the NO leg onto the same quote shape by flipping the book.
func (h *legHarness) wireLegs(legs []Leg, filled map[string]bool) {
	for _, leg := range legs {
		price := leg.Price
		if leg.Side == domain.SideNo {
			// Express the NO leg through the YES-framed quote helper.
			h.gateway.quotes[leg.MarketID] = domain.MarketQuote{
				MarketID: leg.MarketID,
				YesBid:   1.0 - price,
				YesAsk:   1.0 - price + 0.02,
				NoBid:    price - 0.02,
				NoAsk:    price,
				Status:   domain.MarketStatusOpen,
			}
			h.gateway.books[leg.MarketID] = domain.Orderbook{
				MarketID: leg.MarketID,
				Yes:      []domain.OrderbookLevel{{Price: 1.0 - price, Quantity: 100}},
			}
			if filled[leg.MarketID] {
				h.gateway.fills[leg.MarketID] = []domain.Fill{
					{OrderID: "ex-" + leg.MarketID, MarketID: leg.MarketID, Side: leg.Side, Price: price},
				}
			}
			continue
		}
		h.wireLeg(leg, filled[leg.MarketID])
	}
}

func TestExecuteGroupNeedsTwoLegs(t *testing.T) {
	h := newLegHarness(t)
	err := h.coord.ExecuteGroup(context.Background(), []Leg{{MarketID: "KXLEGA-26"}})
	require.Error(t, err)
}

func TestExecuteGroupHalted(t *testing.T) {
	h := newLegHarness(t)
	require.NoError(t, h.meta.SetFlag(context.Background(), domain.FlagArbHalted, true))

	err := h.coord.ExecuteGroup(context.Background(), twoLegs())
	assert.ErrorIs(t, err, domain.ErrArbHalted)
	assert.Empty(t, h.gateway.placedOrders())
}

func TestExecuteGroupAbortsOnPriceDrift(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true, legs[1].MarketID: true})

	// Leg A's ask moved past tolerance since the opportunity was sized.
	quote := h.gateway.quotes[legs[0].MarketID]
	quote.YesAsk = legs[0].Price + 0.05
	h.gateway.quotes[legs[0].MarketID] = quote

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err)
	assert.Empty(t, h.gateway.placedOrders(), "no money moves on a verification miss")
	open, _ := h.positions.ListOpen(context.Background())
	assert.Empty(t, open)
}

func TestExecuteGroupAbortsOnThinDepth(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true, legs[1].MarketID: true})

	// Drain leg A's book below the required quantity.
	h.gateway.books[legs[0].MarketID] = domain.Orderbook{
		MarketID: legs[0].MarketID,
		No:       []domain.OrderbookLevel{{Price: 1.0 - legs[0].Price, Quantity: 3}},
	}

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err)
	assert.Empty(t, h.gateway.placedOrders())
}

func TestExecuteGroupAllLegsFill(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true, legs[1].MarketID: true})

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.NoError(t, err)

	open, _ := h.positions.ListOpen(context.Background())
	require.Len(t, open, 2)
	for _, p := range open {
		assert.True(t, p.Live)
		assert.Equal(t, domain.StrategyArbitrage, p.Strategy)
		assert.True(t, p.Tracked)
	}
	assert.Empty(t, h.orders.byAction(domain.OrderActionSell))
	assert.Empty(t, h.notifier.sent())
}

func TestExecuteGroupDuplicatePositionRollsBack(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true, legs[1].MarketID: true})

	// A position already holds leg B's (market, side) slot.
	_, err := h.positions.Add(context.Background(), domain.Position{
		ID:       "existing",
		MarketID: legs[1].MarketID,
		Side:     legs[1].Side,
		Status:   domain.PositionStatusOpen,
	})
	require.NoError(t, err)

	err = h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Empty(t, h.gateway.placedOrders())

	// Leg A's freshly created row was rolled back.
	open, _ := h.positions.ListOpen(context.Background())
	require.Len(t, open, 1)
	assert.Equal(t, "existing", open[0].ID)
}

func TestExecuteGroupNoLegsFilled(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, nil)
	h.gateway.placeErrs[legs[0].MarketID] = errors.New("exchange rejected")
	h.gateway.placeErrs[legs[1].MarketID] = errors.New("exchange rejected")

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err)

	open, _ := h.positions.ListOpen(context.Background())
	assert.Empty(t, open, "both shadow rows must be retired")
	assert.Empty(t, h.orders.byAction(domain.OrderActionSell))
	assert.Empty(t, h.notifier.sent())

	halted, _ := h.meta.GetFlag(context.Background(), domain.FlagArbHalted)
	assert.False(t, halted)
}

func TestExecuteGroupPartialFillContained(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	// Leg A fills, leg B's fill never shows up.
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true})

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err, "a contained partial is still a failed group")

	// The unfilled leg's resting order was cancelled at the exchange.
	assert.Contains(t, h.gateway.cancelled, "ex-"+legs[1].MarketID)

	// Exactly one liquidating sell, for the filled leg only.
	sells := h.orders.byAction(domain.OrderActionSell)
	require.Len(t, sells, 1)
	assert.Equal(t, legs[0].MarketID, sells[0].MarketID)

	logs := h.trades.all()
	require.Len(t, logs, 1)
	assert.Equal(t, "leg_liquidation", logs[0].ExitReason)

	// Every row ends closed and the halt flag stays clear.
	open, _ := h.positions.ListOpen(context.Background())
	assert.Empty(t, open)
	halted, _ := h.meta.GetFlag(context.Background(), domain.FlagArbHalted)
	assert.False(t, halted)

	assert.Equal(t, []string{"partial_fill"}, h.notifier.sent())
}

func TestExecuteGroupLiquidationFailureHalts(t *testing.T) {
	h := newLegHarness(t)
	legs := twoLegs()
	h.wireLegs(legs, map[string]bool{legs[0].MarketID: true})

	// The liquidating close cannot write its trade log.
	h.trades.addErr = errors.New("db down")

	err := h.coord.ExecuteGroup(context.Background(), legs)
	require.Error(t, err)

	halted, _ := h.meta.GetFlag(context.Background(), domain.FlagArbHalted)
	assert.True(t, halted, "failed liquidation must halt future groups")
	assert.Equal(t, []string{"partial_fill", "liquidation_failed"}, h.notifier.sent())

	// The escalation names the leg still carrying exposure.
	note := h.notifier.last()
	assert.Equal(t, legs[0].MarketID, note.MarketID)
	assert.Equal(t, legs[0].Side, note.Side)

	// The halt now blocks the next group up front.
	h.trades.addErr = nil
	err = h.coord.ExecuteGroup(context.Background(), twoLegs())
	assert.ErrorIs(t, err, domain.ErrArbHalted)
}
