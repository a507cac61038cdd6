// Package service contains the engine's long-running loops: position
// tracking, exchange reconciliation, trading, balance snapshots, and archive
// rotation. Each loop is a Run method driven by a ticker plus an exported
// single-pass method so the logic is testable without timers.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/executor"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/exits"
)

// Tracker watches open positions and closes the ones whose exit rules fire.
type Tracker struct {
	positions domain.PositionStore
	gateway   domain.Gateway
	quotes    domain.QuoteCache // optional
	exec      *executor.Executor
	eval      *exits.Evaluator
	notifier  domain.Notifier // optional
	interval  time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// NewTracker creates a Tracker. quotes and notifier may be nil.
func NewTracker(positions domain.PositionStore, gateway domain.Gateway, quotes domain.QuoteCache, exec *executor.Executor, eval *exits.Evaluator, notifier domain.Notifier, interval time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: positions,
		gateway:   gateway,
		quotes:    quotes,
		exec:      exec,
		eval:      eval,
		notifier:  notifier,
		interval:  interval,
		logger:    logger.With(slog.String("component", "tracker")),
		now:       time.Now,
	}
}

// Run drives Tick at the configured interval until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("tracker started", slog.Duration("interval", t.interval))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.logger.Error("tracking pass failed", slog.Any("error", err))
			}
		}
	}
}

// Tick runs one tracking pass over all open positions. Errors on individual
// positions are logged and do not stop the pass.
func (t *Tracker) Tick(ctx context.Context) error {
	open, err := t.positions.ListOpen(ctx)
	if err != nil {
		return err
	}

	now := t.now()
	for _, pos := range open {
		// Non-live rows are pending-order shadows; the reconciler owns them.
		if !pos.Live {
			continue
		}
		if err := t.trackOne(ctx, pos, now); err != nil {
			t.logger.Error("track position",
				slog.String("position_id", pos.ID),
				slog.String("market_id", pos.MarketID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (t *Tracker) trackOne(ctx context.Context, pos domain.Position, now time.Time) error {
	quote, err := t.quote(ctx, pos.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn("market gone from exchange, leaving for reconciler",
				slog.String("market_id", pos.MarketID))
			return nil
		}
		return err
	}

	pos, err = t.ensureExitLevels(ctx, pos, quote, now)
	if err != nil {
		return err
	}

	res := t.eval.Evaluate(pos, quote, now)
	if !res.Exit {
		return nil
	}

	t.logger.Info("exit triggered",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("reason", res.Reason),
		slog.Float64("exit_price", res.ExitPrice))

	if err := t.exec.ExecuteClose(ctx, pos, res.ExitPrice, res.Reason); err != nil {
		if executor.IsActiveOrderErr(err) {
			t.logger.Debug("close deferred, order in flight",
				slog.String("position_id", pos.ID))
			return nil
		}
		return err
	}

	t.notifyClosed(ctx, pos, res)
	return nil
}

// quote serves from the cache when one is wired and fresh, falling back to
// the REST gateway and writing the result back.
func (t *Tracker) quote(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	if t.quotes != nil {
		q, err := t.quotes.GetQuote(ctx, marketID)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn("quote cache read", slog.String("market_id", marketID), slog.Any("error", err))
		}
	}

	q, err := t.gateway.Market(ctx, marketID)
	if err != nil {
		return domain.MarketQuote{}, err
	}
	if t.quotes != nil {
		if err := t.quotes.SetQuote(ctx, q); err != nil {
			t.logger.Warn("quote cache write", slog.String("market_id", marketID), slog.Any("error", err))
		}
	}
	return q, nil
}

// ensureExitLevels backfills missing stop, target, or hold limit on tracked
// positions so nothing rides uncovered after a crash or adoption.
func (t *Tracker) ensureExitLevels(ctx context.Context, pos domain.Position, quote domain.MarketQuote, now time.Time) (domain.Position, error) {
	if !pos.Tracked {
		return pos, nil
	}
	if pos.StopLossPrice != nil && pos.TakeProfitPrice != nil && pos.MaxHold != nil {
		return pos, nil
	}

	levels := exits.ComputeLevels(pos.EntryPrice, 0, 0, quote.ExpiresAt.Sub(now))
	if pos.StopLossPrice == nil {
		pos.StopLossPrice = &levels.StopLoss
	}
	if pos.TakeProfitPrice == nil {
		pos.TakeProfitPrice = &levels.TakeProfit
	}
	if pos.MaxHold == nil {
		pos.MaxHold = &levels.MaxHold
	}

	if err := t.positions.UpdateExitLevels(ctx, pos.ID, pos.StopLossPrice, pos.TakeProfitPrice, pos.MaxHold); err != nil {
		return pos, err
	}

	t.logger.Info("exit levels backfilled",
		slog.String("position_id", pos.ID),
		slog.Float64("stop_loss", *pos.StopLossPrice),
		slog.Float64("take_profit", *pos.TakeProfitPrice))
	return pos, nil
}

func (t *Tracker) notifyClosed(ctx context.Context, pos domain.Position, res exits.Result) {
	if t.notifier == nil {
		return
	}
	pnl := pos.PnLAt(res.ExitPrice)
	err := t.notifier.Notify(ctx, domain.Notification{
		Event:    domain.EventPositionClosed,
		Title:    "Position closed",
		Message:  "exit rule " + res.Reason + " fired",
		MarketID: pos.MarketID,
		Side:     pos.Side,
		Price:    res.ExitPrice,
		Quantity: pos.Quantity,
		PnL:      &pnl,
	})
	if err != nil {
		t.logger.Error("send close notification", slog.Any("error", err))
	}
}
