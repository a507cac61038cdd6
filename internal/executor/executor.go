// Package executor turns position intents into exchange orders and keeps the
// ledger consistent with their outcomes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// priceFloor is the lowest limit price the exchange accepts.
const priceFloor = 0.01

// Config tunes executor behaviour.
type Config struct {
	// Paper skips all exchange calls and fills orders at their requested
	// price. The ledger path is identical to live trading.
	Paper bool

	// CloseDiscount prices closing sells below the evaluator's exit price so
	// they cross the spread. 0.05 means 5% below.
	CloseDiscount float64

	// FillPollAttempts and FillPollInterval bound how long a placement waits
	// for the fills endpoint to confirm before falling back to the requested
	// price.
	FillPollAttempts int
	FillPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CloseDiscount <= 0 {
		c.CloseDiscount = 0.05
	}
	if c.FillPollAttempts <= 0 {
		c.FillPollAttempts = 3
	}
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = 500 * time.Millisecond
	}
	return c
}

// Executor places orders for single positions. It enforces the one active
// order per position rule: callers get domain.ErrActiveOrder when a previous
// order is still working.
type Executor struct {
	gateway   domain.Gateway
	positions domain.PositionStore
	orders    domain.OrderStore
	trades    domain.TradeStore
	cfg       Config
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(gateway domain.Gateway, positions domain.PositionStore, orders domain.OrderStore, trades domain.TradeStore, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		gateway:   gateway,
		positions: positions,
		orders:    orders,
		trades:    trades,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "executor")),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteOpen buys into the given position. The position row must already
// exist (not live); on fill confirmation the position is marked live with the
// realized entry price. On placement failure the order is recorded failed and
// the position stays non-live for the reconciler to clean up.
func (e *Executor) ExecuteOpen(ctx context.Context, pos domain.Position) error {
	if err := e.checkNoActiveOrder(ctx, pos.ID); err != nil {
		return err
	}

	limit := pos.EntryPrice
	order := domain.Order{
		ID:             e.newID(),
		PositionID:     pos.ID,
		MarketID:       pos.MarketID,
		Side:           pos.Side,
		Action:         domain.OrderActionBuy,
		Type:           domain.OrderTypeLimit,
		RequestedPrice: limit,
		Quantity:       pos.Quantity,
		Status:         domain.OrderStatusPending,
	}
	if err := e.orders.Add(ctx, order); err != nil {
		return err
	}

	fillPrice, err := e.place(ctx, order, limit)
	if err != nil {
		return fmt.Errorf("executor: open %s/%s: %w", pos.MarketID, pos.Side, err)
	}

	if err := e.positions.MarkLive(ctx, pos.ID, fillPrice); err != nil {
		return fmt.Errorf("executor: mark live %s: %w", pos.ID, err)
	}

	e.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Float64("fill_price", fillPrice),
		slog.Int64("quantity", pos.Quantity))
	return nil
}

// ExecuteClose sells the position out with an aggressive limit order priced
// below the evaluator's exit price so it crosses the spread. The ledger close
// uses the evaluator's exit price; the realized fill is recorded on the trade
// log as slippage. Untracked positions are closed without a trade log.
func (e *Executor) ExecuteClose(ctx context.Context, pos domain.Position, exitPrice float64, reason string) error {
	if err := e.checkNoActiveOrder(ctx, pos.ID); err != nil {
		return err
	}

	limit := exitPrice * (1 - e.cfg.CloseDiscount)
	if limit < priceFloor {
		limit = priceFloor
	}

	order := domain.Order{
		ID:             e.newID(),
		PositionID:     pos.ID,
		MarketID:       pos.MarketID,
		Side:           pos.Side,
		Action:         domain.OrderActionSell,
		Type:           domain.OrderTypeLimit,
		RequestedPrice: limit,
		Quantity:       pos.Quantity,
		Status:         domain.OrderStatusPending,
	}
	if err := e.orders.Add(ctx, order); err != nil {
		return err
	}

	fillPrice, err := e.place(ctx, order, limit)
	if err != nil {
		return fmt.Errorf("executor: close %s/%s: %w", pos.MarketID, pos.Side, err)
	}

	if err := e.positions.Close(ctx, pos.ID, exitPrice); err != nil {
		return err
	}

	if pos.Tracked {
		if err := e.recordTrade(ctx, pos, exitPrice, fillPrice, reason); err != nil {
			return err
		}
	}

	e.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("fill_price", fillPrice),
		slog.Float64("pnl", pos.PnLAt(exitPrice)))
	return nil
}

func (e *Executor) checkNoActiveOrder(ctx context.Context, positionID string) error {
	active, err := e.orders.HasActiveOrder(ctx, positionID)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("executor: position %s: %w", positionID, domain.ErrActiveOrder)
	}
	return nil
}

// place runs one placement attempt end to end: exchange call, fill
// confirmation, and the order's single terminal update. In paper mode the
// exchange is skipped and the order fills at its requested price.
func (e *Executor) place(ctx context.Context, order domain.Order, limit float64) (float64, error) {
	if e.cfg.Paper {
		if err := e.orders.UpdateResult(ctx, order.ID, domain.OrderStatusFilled, "paper", &limit); err != nil {
			return 0, err
		}
		return limit, nil
	}

	exchangeID, err := e.gateway.PlaceOrder(ctx, domain.OrderRequest{
		MarketID:      order.MarketID,
		ClientOrderID: order.ID,
		Side:          order.Side,
		Action:        order.Action,
		Type:          order.Type,
		Quantity:      order.Quantity,
		LimitPrice:    &limit,
	})
	if err != nil {
		if uerr := e.orders.UpdateResult(ctx, order.ID, domain.OrderStatusFailed, "", nil); uerr != nil {
			e.logger.Error("record failed order", slog.String("order_id", order.ID), slog.Any("error", uerr))
		}
		return 0, err
	}

	fillPrice := e.confirmFill(ctx, order.MarketID, exchangeID, limit)

	if err := e.orders.UpdateResult(ctx, order.ID, domain.OrderStatusFilled, exchangeID, &fillPrice); err != nil {
		return 0, err
	}
	return fillPrice, nil
}

// confirmFill polls the fills endpoint for the placed order. When no fill
// shows up inside the polling budget it falls back to the requested price and
// logs the assumption; the next reconciliation pass corrects any drift.
func (e *Executor) confirmFill(ctx context.Context, marketID, exchangeOrderID string, requested float64) float64 {
	for attempt := 0; attempt < e.cfg.FillPollAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.cfg.FillPollInterval); err != nil {
				break
			}
		}

		fills, err := e.gateway.Fills(ctx, marketID, 100)
		if err != nil {
			e.logger.Warn("fetch fills",
				slog.String("market_id", marketID), slog.Any("error", err))
			continue
		}
		for _, f := range fills {
			if f.OrderID == exchangeOrderID {
				return f.Price
			}
		}
	}

	e.logger.Warn("fill unconfirmed, assuming requested price",
		slog.String("market_id", marketID),
		slog.String("exchange_order_id", exchangeOrderID),
		slog.Float64("requested_price", requested))
	return requested
}

func (e *Executor) recordTrade(ctx context.Context, pos domain.Position, exitPrice, fillPrice float64, reason string) error {
	slippage := fillPrice - exitPrice
	written, err := e.trades.Add(ctx, domain.TradeLog{
		ID:         e.newID(),
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pos.PnLAt(exitPrice),
		ExitReason: reason,
		Slippage:   &slippage,
		Strategy:   pos.Strategy,
		EnteredAt:  pos.OpenedAt,
		ExitedAt:   e.now(),
	})
	if err != nil {
		return err
	}
	if !written {
		e.logger.Debug("duplicate trade log suppressed",
			slog.String("market_id", pos.MarketID),
			slog.String("side", string(pos.Side)))
	}
	return nil
}

// IsActiveOrderErr reports whether the error is the active-order precondition
// failing, which callers typically treat as retry-next-tick rather than a
// fault.
func IsActiveOrderErr(err error) bool {
	return errors.Is(err, domain.ErrActiveOrder)
}
