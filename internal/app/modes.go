package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/exits"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/service"
)

// TrackMode runs position tracking, reconciliation, and balance snapshots.
// No new positions are opened.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	return g.Wait()
}

// TradeMode runs everything in track mode plus the decision-driven trading
// loop.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startTrader(ctx, g, deps)
	return g.Wait()
}

// ReconcileMode runs a single reconciliation pass and exits. Useful from cron
// or for manual convergence after an incident.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	rec := service.NewReconciler(
		deps.PositionStore, deps.Gateway, deps.MetaStore, deps.LockManager,
		a.cfg.Trading.SyncInterval.Duration, a.logger,
	)
	if err := rec.Sync(ctx); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "reconciliation complete")
	return nil
}

// FullMode runs trading, tracking, reconciliation, balance snapshots, and
// archive rotation.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startTrader(ctx, g, deps)

	if deps.Archiver != nil {
		rotator := service.NewArchiveRotator(
			deps.Archiver,
			a.cfg.Archive.Interval.Duration,
			a.cfg.Archive.RetentionDays,
			a.logger,
		)
		g.Go(func() error {
			return rotator.Run(ctx)
		})
	}

	return g.Wait()
}

// startCore launches the loops every long-running mode shares: the ticker
// feed, the exit tracker, the reconciler, and the balance tracker.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if len(a.cfg.Trading.Markets) > 0 {
		feed := service.NewFeed(deps.WSClient, deps.QuoteCache, a.logger)
		if err := feed.Start(ctx, a.cfg.Trading.Markets); err != nil {
			a.logger.WarnContext(ctx, "ticker feed unavailable, tracker will poll REST",
				slog.String("error", err.Error()))
		} else {
			g.Go(func() error {
				<-ctx.Done()
				_ = feed.Close()
				return ctx.Err()
			})
		}
	}

	eval := exits.NewEvaluator(a.cfg.Trading.EmergencyStopPct)
	tracker := service.NewTracker(
		deps.PositionStore, deps.Gateway, deps.QuoteCache,
		deps.Executor, eval, deps.Notifier,
		a.cfg.Trading.TrackInterval.Duration, a.logger,
	)
	g.Go(func() error {
		return tracker.Run(ctx)
	})

	rec := service.NewReconciler(
		deps.PositionStore, deps.Gateway, deps.MetaStore, deps.LockManager,
		a.cfg.Trading.SyncInterval.Duration, a.logger,
	)
	g.Go(func() error {
		return rec.Run(ctx)
	})

	balance := service.NewBalanceTracker(
		deps.Gateway, deps.BalanceStore,
		a.cfg.Trading.BalanceInterval.Duration, a.logger,
	)
	g.Go(func() error {
		return balance.Run(ctx)
	})
}

// startTrader launches the decision-driven entry loop when a decision service
// is configured.
func (a *App) startTrader(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Decision == nil {
		a.logger.WarnContext(ctx, "decision.base_url not set, trading loop disabled")
		return
	}
	if len(a.cfg.Trading.Markets) == 0 {
		a.logger.WarnContext(ctx, "trading.markets is empty, trading loop disabled")
		return
	}

	trader := service.NewTrader(
		deps.PositionStore, deps.Gateway, deps.Decision, deps.Executor,
		service.TraderConfig{
			Markets:       a.cfg.Trading.Markets,
			MaxPositions:  a.cfg.Trading.MaxPositions,
			PositionSize:  a.cfg.Trading.PositionSize,
			MinConfidence: a.cfg.Trading.MinConfidence,
			Interval:      a.cfg.Trading.TradeInterval.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		return trader.Run(ctx)
	})
}
