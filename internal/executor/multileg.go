package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// MultiLegConfig tunes multi-leg group execution.
type MultiLegConfig struct {
	// PriceTolerance is the maximum the live ask may exceed a leg's expected
	// price before the whole group aborts.
	PriceTolerance float64

	// MinDepth is the minimum resting quantity each leg must find at or below
	// its tolerated price.
	MinDepth int64

	// FillPollAttempts and FillPollInterval bound strict fill verification.
	// A leg whose fill never shows up is treated as unfilled and cancelled.
	FillPollAttempts int
	FillPollInterval time.Duration

	// OrderbookDepth is how many levels to request per depth check.
	OrderbookDepth int
}

func (c MultiLegConfig) withDefaults() MultiLegConfig {
	if c.PriceTolerance <= 0 {
		c.PriceTolerance = 0.02
	}
	if c.FillPollAttempts <= 0 {
		c.FillPollAttempts = 10
	}
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = time.Second
	}
	if c.OrderbookDepth <= 0 {
		c.OrderbookDepth = 10
	}
	return c
}

// Leg is one side of a multi-leg group: a market, a side, the price the
// opportunity was sized at, and the contract count.
type Leg struct {
	MarketID string
	Side     domain.ContractSide
	Price    float64
	Quantity int64
}

// Coordinator executes multi-leg groups atomically or not at all. All legs
// fire concurrently; a partial outcome is contained by liquidating whichever
// legs did fill, and a failed liquidation halts all future groups until an
// operator clears the flag.
type Coordinator struct {
	gateway   domain.Gateway
	positions domain.PositionStore
	orders    domain.OrderStore
	meta      domain.MetaStore
	exec      *Executor
	notifier  domain.Notifier
	cfg       MultiLegConfig
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a Coordinator. The notifier may be nil.
func NewCoordinator(gateway domain.Gateway, positions domain.PositionStore, orders domain.OrderStore, meta domain.MetaStore, exec *Executor, notifier domain.Notifier, cfg MultiLegConfig, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		gateway:   gateway,
		positions: positions,
		orders:    orders,
		meta:      meta,
		exec:      exec,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "multileg")),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

type legOutcome struct {
	position  domain.Position
	filled    bool
	fillPrice float64
}

// ExecuteGroup runs one multi-leg group. It re-verifies prices and depth,
// fires all legs concurrently, and verifies every fill before declaring
// success. Returns domain.ErrArbHalted while the halt flag is set.
func (mc *Coordinator) ExecuteGroup(ctx context.Context, legs []Leg) error {
	if len(legs) < 2 {
		return fmt.Errorf("multileg: need at least 2 legs, got %d", len(legs))
	}

	halted, err := mc.meta.GetFlag(ctx, domain.FlagArbHalted)
	if err != nil {
		return err
	}
	if halted {
		return domain.ErrArbHalted
	}

	if err := mc.verifyLegs(ctx, legs); err != nil {
		return err
	}

	positions, err := mc.createPositions(ctx, legs)
	if err != nil {
		return err
	}

	outcomes := make([]legOutcome, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range legs {
		i := i
		g.Go(func() error {
			outcomes[i] = mc.fireLeg(gctx, legs[i], positions[i])
			return nil
		})
	}
	_ = g.Wait()

	filled, unfilled := 0, 0
	for _, o := range outcomes {
		if o.filled {
			filled++
		} else {
			unfilled++
		}
	}

	// Unfilled legs never went live; retire their rows at entry so the
	// ledger carries no shadows.
	for _, o := range outcomes {
		if !o.filled {
			if err := mc.positions.Close(ctx, o.position.ID, o.position.EntryPrice); err != nil {
				mc.logger.Error("retire unfilled leg",
					slog.String("position_id", o.position.ID), slog.Any("error", err))
			}
		}
	}

	switch {
	case unfilled == 0:
		mc.logger.Info("group filled", slog.Int("legs", filled))
		return nil
	case filled == 0:
		return fmt.Errorf("multileg: no legs filled")
	default:
		return mc.containPartial(ctx, outcomes, filled, unfilled)
	}
}

// verifyLegs re-checks each leg's live ask and resting depth immediately
// before firing. Opportunity pricing goes stale fast; any miss aborts the
// whole group before money moves.
func (mc *Coordinator) verifyLegs(ctx context.Context, legs []Leg) error {
	for _, leg := range legs {
		quote, err := mc.gateway.Market(ctx, leg.MarketID)
		if err != nil {
			return fmt.Errorf("multileg: verify %s: %w", leg.MarketID, err)
		}
		ask := quote.AskFor(leg.Side)
		if ask <= 0 || ask > leg.Price+mc.cfg.PriceTolerance {
			return fmt.Errorf("multileg: %s/%s ask %.2f outside tolerance of %.2f",
				leg.MarketID, leg.Side, ask, leg.Price)
		}

		book, err := mc.gateway.Orderbook(ctx, leg.MarketID, mc.cfg.OrderbookDepth)
		if err != nil {
			return fmt.Errorf("multileg: orderbook %s: %w", leg.MarketID, err)
		}
		need := mc.cfg.MinDepth
		if leg.Quantity > need {
			need = leg.Quantity
		}
		if depth := book.AskDepth(leg.Side, leg.Price+mc.cfg.PriceTolerance); depth < need {
			return fmt.Errorf("multileg: %s/%s depth %d below required %d",
				leg.MarketID, leg.Side, depth, need)
		}
	}
	return nil
}

func (mc *Coordinator) createPositions(ctx context.Context, legs []Leg) ([]domain.Position, error) {
	created := make([]domain.Position, 0, len(legs))
	for _, leg := range legs {
		pos := domain.Position{
			ID:         mc.newID(),
			MarketID:   leg.MarketID,
			Side:       leg.Side,
			EntryPrice: leg.Price,
			Quantity:   leg.Quantity,
			Live:       false,
			Tracked:    true,
			Status:     domain.PositionStatusOpen,
			Strategy:   domain.StrategyArbitrage,
			OpenedAt:   mc.now(),
		}
		added, err := mc.positions.Add(ctx, pos)
		if err == nil && !added {
			err = fmt.Errorf("multileg: %s/%s: %w", leg.MarketID, leg.Side, domain.ErrAlreadyExists)
		}
		if err != nil {
			for _, p := range created {
				if cerr := mc.positions.Close(ctx, p.ID, p.EntryPrice); cerr != nil {
					mc.logger.Error("roll back leg position",
						slog.String("position_id", p.ID), slog.Any("error", cerr))
				}
			}
			return nil, err
		}
		created = append(created, pos)
	}
	return created, nil
}

// fireLeg places one leg's buy and verifies its fill strictly. Unconfirmed
// orders are cancelled and reported unfilled rather than assumed filled.
func (mc *Coordinator) fireLeg(ctx context.Context, leg Leg, pos domain.Position) legOutcome {
	out := legOutcome{position: pos}
	limit := leg.Price + mc.cfg.PriceTolerance

	order := domain.Order{
		ID:             mc.newID(),
		PositionID:     pos.ID,
		MarketID:       leg.MarketID,
		Side:           leg.Side,
		Action:         domain.OrderActionBuy,
		Type:           domain.OrderTypeLimit,
		RequestedPrice: limit,
		Quantity:       leg.Quantity,
		Status:         domain.OrderStatusPending,
	}
	if err := mc.orders.Add(ctx, order); err != nil {
		mc.logger.Error("add leg order", slog.String("market_id", leg.MarketID), slog.Any("error", err))
		return out
	}

	exchangeID, err := mc.gateway.PlaceOrder(ctx, domain.OrderRequest{
		MarketID:      leg.MarketID,
		ClientOrderID: order.ID,
		Side:          leg.Side,
		Action:        domain.OrderActionBuy,
		Type:          domain.OrderTypeLimit,
		Quantity:      leg.Quantity,
		LimitPrice:    &limit,
	})
	if err != nil {
		mc.logger.Warn("leg placement failed",
			slog.String("market_id", leg.MarketID), slog.Any("error", err))
		if uerr := mc.orders.UpdateResult(ctx, order.ID, domain.OrderStatusFailed, "", nil); uerr != nil {
			mc.logger.Error("record failed leg order", slog.String("order_id", order.ID), slog.Any("error", uerr))
		}
		return out
	}

	fillPrice, ok := mc.verifyFill(ctx, leg.MarketID, exchangeID)
	if !ok {
		if cerr := mc.gateway.CancelOrder(ctx, exchangeID); cerr != nil {
			mc.logger.Warn("cancel unfilled leg",
				slog.String("exchange_order_id", exchangeID), slog.Any("error", cerr))
		}
		if uerr := mc.orders.UpdateResult(ctx, order.ID, domain.OrderStatusUnfilled, exchangeID, nil); uerr != nil {
			mc.logger.Error("record unfilled leg order", slog.String("order_id", order.ID), slog.Any("error", uerr))
		}
		return out
	}

	if err := mc.orders.UpdateResult(ctx, order.ID, domain.OrderStatusFilled, exchangeID, &fillPrice); err != nil {
		mc.logger.Error("record filled leg order", slog.String("order_id", order.ID), slog.Any("error", err))
	}
	if err := mc.positions.MarkLive(ctx, pos.ID, fillPrice); err != nil {
		mc.logger.Error("mark leg live", slog.String("position_id", pos.ID), slog.Any("error", err))
	}

	out.filled = true
	out.fillPrice = fillPrice
	out.position.Live = true
	out.position.EntryPrice = fillPrice
	return out
}

func (mc *Coordinator) verifyFill(ctx context.Context, marketID, exchangeOrderID string) (float64, bool) {
	for attempt := 0; attempt < mc.cfg.FillPollAttempts; attempt++ {
		if attempt > 0 {
			if err := mc.sleep(ctx, mc.cfg.FillPollInterval); err != nil {
				return 0, false
			}
		}
		fills, err := mc.gateway.Fills(ctx, marketID, 100)
		if err != nil {
			mc.logger.Warn("fetch leg fills",
				slog.String("market_id", marketID), slog.Any("error", err))
			continue
		}
		for _, f := range fills {
			if f.OrderID == exchangeOrderID {
				return f.Price, true
			}
		}
	}
	return 0, false
}

// containPartial sells every filled leg back out, one liquidating order per
// leg. A leg that cannot be liquidated leaves naked exposure on the book, so
// that failure halts all multi-leg execution and pages the operator.
func (mc *Coordinator) containPartial(ctx context.Context, outcomes []legOutcome, filled, unfilled int) error {
	mc.logger.Warn("partial group fill, liquidating filled legs",
		slog.Int("filled", filled), slog.Int("unfilled", unfilled))
	mc.notify(ctx, domain.Notification{
		Event:   domain.EventPartialFill,
		Title:   "Partial multi-leg fill",
		Message: fmt.Sprintf("%d of %d legs filled, liquidating", filled, filled+unfilled),
	})

	var liqErr error
	var liqFailed domain.Position
	for _, o := range outcomes {
		if !o.filled {
			continue
		}

		exitPrice := o.fillPrice
		if quote, err := mc.gateway.Market(ctx, o.position.MarketID); err == nil {
			if bid := quote.PriceFor(o.position.Side); bid > 0 {
				exitPrice = bid
			}
		}

		if err := mc.exec.ExecuteClose(ctx, o.position, exitPrice, "leg_liquidation"); err != nil {
			mc.logger.Error("leg liquidation failed",
				slog.String("position_id", o.position.ID),
				slog.String("market_id", o.position.MarketID),
				slog.Any("error", err))
			liqErr = err
			liqFailed = o.position
		}
	}

	if liqErr != nil {
		if err := mc.meta.SetFlag(ctx, domain.FlagArbHalted, true); err != nil {
			mc.logger.Error("set halt flag", slog.Any("error", err))
		}
		mc.notify(ctx, domain.Notification{
			Event:    domain.EventLiquidationFailed,
			Title:    "Leg liquidation FAILED",
			Message:  "naked exposure remains, multi-leg execution halted pending manual review",
			MarketID: liqFailed.MarketID,
			Side:     liqFailed.Side,
			Quantity: liqFailed.Quantity,
		})
		return fmt.Errorf("multileg: liquidation failed, execution halted: %w", liqErr)
	}

	return fmt.Errorf("multileg: partial fill contained, %d legs liquidated", filled)
}

func (mc *Coordinator) notify(ctx context.Context, n domain.Notification) {
	if mc.notifier == nil {
		return
	}
	if err := mc.notifier.Notify(ctx, n); err != nil {
		mc.logger.Error("send notification", slog.String("event", string(n.Event)), slog.Any("error", err))
	}
}
