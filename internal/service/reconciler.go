package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

const (
	// reconcileLockKey serializes sync passes across bot instances.
	reconcileLockKey = "reconcile"

	// reconcileLockTTL bounds how long a crashed holder can block syncs.
	reconcileLockTTL = 2 * time.Minute

	// staleShadowAfter is how long a non-live position may sit before the
	// reconciler retires it as an abandoned placement attempt.
	staleShadowAfter = 10 * time.Minute
)

// Reconciler converges the local ledger with the exchange's authoritative
// position list. The exchange always wins: positions it no longer reports are
// closed locally, and positions it reports that the ledger lacks are adopted.
type Reconciler struct {
	positions domain.PositionStore
	gateway   domain.Gateway
	meta      domain.MetaStore
	locks     domain.LockManager // optional
	interval  time.Duration
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewReconciler creates a Reconciler. locks may be nil for single-instance
// deployments.
func NewReconciler(positions domain.PositionStore, gateway domain.Gateway, meta domain.MetaStore, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		positions: positions,
		gateway:   gateway,
		meta:      meta,
		locks:     locks,
		interval:  interval,
		logger:    logger.With(slog.String("component", "reconciler")),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Run drives Sync at the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.logger.Error("sync failed", slog.Any("error", err))
			}
		}
	}
}

// Sync runs one reconciliation pass. A pass that finds nothing to fix writes
// nothing, so running it twice in a row is safe.
func (r *Reconciler) Sync(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, reconcileLockKey, reconcileLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.Debug("sync already running elsewhere")
				return nil
			}
			return err
		}
		defer unlock()
	}

	remote, err := r.gateway.Positions(ctx)
	if err != nil {
		return err
	}

	firstRunDone, err := r.meta.GetFlag(ctx, domain.FlagFirstRunCompleted)
	if err != nil {
		return err
	}
	if !firstRunDone {
		return r.adoptFirstRun(ctx, remote)
	}

	local, err := r.positions.ListOpen(ctx)
	if err != nil {
		return err
	}

	remoteByKey := make(map[string]domain.ExchangePosition, len(remote))
	for _, rp := range remote {
		remoteByKey[rp.MarketID+"|"+string(rp.Side())] = rp
	}

	for _, pos := range local {
		key := pos.MarketID + "|" + string(pos.Side)
		rp, held := remoteByKey[key]
		if held {
			delete(remoteByKey, key)
			r.syncHeld(ctx, pos, rp)
			continue
		}
		r.syncAbsent(ctx, pos)
	}

	// Whatever the exchange still reports has no local counterpart: adopt it
	// so exposure is never invisible.
	for _, rp := range remoteByKey {
		r.adopt(ctx, rp, domain.StrategySyncRecovery, true)
	}

	return nil
}

// adoptFirstRun runs once per ledger lifetime. Positions already sitting at
// the exchange before this bot ever traded are adopted untracked: they count
// toward exposure but never produce trade logs. The completion flag is only
// set once every position made it in, so a deferred adoption retries on the
// next pass.
func (r *Reconciler) adoptFirstRun(ctx context.Context, remote []domain.ExchangePosition) error {
	adopted := 0
	for _, rp := range remote {
		if r.adopt(ctx, rp, domain.StrategyLegacyUntracked, false) {
			adopted++
		}
	}
	if adopted < len(remote) {
		r.logger.Warn("first-run adoption incomplete, retrying next pass",
			slog.Int("adopted", adopted), slog.Int("total", len(remote)))
		return nil
	}
	if err := r.meta.SetFlag(ctx, domain.FlagFirstRunCompleted, true); err != nil {
		return err
	}
	r.logger.Info("first-run adoption complete", slog.Int("positions", len(remote)))
	return nil
}

// syncHeld handles a local position the exchange still reports: recover fill
// confirmations the executor missed and converge quantity drift.
func (r *Reconciler) syncHeld(ctx context.Context, pos domain.Position, rp domain.ExchangePosition) {
	if !pos.Live {
		// The exchange holds contracts for a position we never confirmed, so
		// the placement did fill.
		if err := r.positions.MarkLive(ctx, pos.ID, pos.EntryPrice); err != nil {
			r.logger.Error("recover unconfirmed fill",
				slog.String("position_id", pos.ID), slog.Any("error", err))
			return
		}
		r.logger.Info("recovered unconfirmed fill", slog.String("position_id", pos.ID))
	}

	if qty := rp.AbsQuantity(); qty != pos.Quantity {
		if err := r.positions.UpdateQuantity(ctx, pos.ID, qty); err != nil {
			r.logger.Error("converge quantity",
				slog.String("position_id", pos.ID), slog.Any("error", err))
			return
		}
		r.logger.Info("quantity converged",
			slog.String("position_id", pos.ID),
			slog.Int64("was", pos.Quantity),
			slog.Int64("now", qty))
	}
}

// syncAbsent handles a local open position the exchange no longer reports.
// Live positions were closed out from under us (settlement, manual sale) and
// get closed at the current market price. Non-live shadows are retired once
// their placement attempt is clearly abandoned.
func (r *Reconciler) syncAbsent(ctx context.Context, pos domain.Position) {
	if !pos.Live {
		if r.now().Sub(pos.OpenedAt) < staleShadowAfter {
			return
		}
		if err := r.positions.Close(ctx, pos.ID, pos.EntryPrice); err != nil {
			r.logger.Error("retire stale shadow",
				slog.String("position_id", pos.ID), slog.Any("error", err))
			return
		}
		r.logger.Info("stale placement shadow retired", slog.String("position_id", pos.ID))
		return
	}

	exitPrice := r.marketPrice(ctx, pos.MarketID, pos.Side)
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}
	if err := r.positions.Close(ctx, pos.ID, exitPrice); err != nil {
		r.logger.Error("close absent position",
			slog.String("position_id", pos.ID), slog.Any("error", err))
		return
	}
	r.logger.Info("closed position absent at exchange",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.Float64("exit_price", exitPrice))
}

// adopt writes a ledger row for a position the exchange holds but the ledger
// does not. When a closed row already occupies the (market, side) slot it is
// reopened in place. A zero entry price would turn every later close into
// phantom profit, so adoption is deferred to the next pass when no usable
// quote can be fetched.
func (r *Reconciler) adopt(ctx context.Context, rp domain.ExchangePosition, strategy string, tracked bool) bool {
	entry := r.marketPrice(ctx, rp.MarketID, rp.Side())
	if entry <= 0 {
		r.logger.Warn("adoption deferred, no usable entry price",
			slog.String("market_id", rp.MarketID),
			slog.String("side", string(rp.Side())))
		return false
	}

	pos := domain.Position{
		ID:         r.newID(),
		MarketID:   rp.MarketID,
		Side:       rp.Side(),
		EntryPrice: entry,
		Quantity:   rp.AbsQuantity(),
		Live:       true,
		Tracked:    tracked,
		Status:     domain.PositionStatusOpen,
		Strategy:   strategy,
		OpenedAt:   r.now(),
	}

	added, err := r.positions.Add(ctx, pos)
	if err != nil {
		r.logger.Error("adopt position",
			slog.String("market_id", rp.MarketID), slog.Any("error", err))
		return false
	}
	if !added {
		// The slot is taken by a closed row; revive it with the adopted state.
		if err := r.positions.Reopen(ctx, pos); err != nil {
			r.logger.Error("reopen for adoption",
				slog.String("market_id", rp.MarketID), slog.Any("error", err))
			return false
		}
	}

	r.logger.Info("adopted exchange position",
		slog.String("market_id", rp.MarketID),
		slog.String("side", string(pos.Side)),
		slog.String("strategy", strategy),
		slog.Int64("quantity", pos.Quantity))
	return true
}

// marketPrice returns the current sellable price for a side, or 0 when the
// quote cannot be fetched.
func (r *Reconciler) marketPrice(ctx context.Context, marketID string, side domain.ContractSide) float64 {
	quote, err := r.gateway.Market(ctx, marketID)
	if err != nil {
		r.logger.Warn("quote for reconciliation unavailable",
			slog.String("market_id", marketID), slog.Any("error", err))
		return 0
	}
	return quote.PriceFor(side)
}
