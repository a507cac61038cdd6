package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// BalanceTracker snapshots the account's cash balance on an interval so
// equity history survives restarts.
type BalanceTracker struct {
	gateway  domain.Gateway
	balances domain.BalanceStore
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewBalanceTracker creates a BalanceTracker.
func NewBalanceTracker(gateway domain.Gateway, balances domain.BalanceStore, interval time.Duration, logger *slog.Logger) *BalanceTracker {
	return &BalanceTracker{
		gateway:  gateway,
		balances: balances,
		interval: interval,
		logger:   logger.With(slog.String("component", "balance")),
		now:      time.Now,
	}
}

// Run drives Snapshot at the configured interval until the context is
// cancelled. One snapshot is taken immediately on start.
func (b *BalanceTracker) Run(ctx context.Context) error {
	if err := b.Snapshot(ctx); err != nil {
		b.logger.Error("initial balance snapshot failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.Snapshot(ctx); err != nil {
				b.logger.Error("balance snapshot failed", slog.Any("error", err))
			}
		}
	}
}

// Snapshot records the current exchange balance.
func (b *BalanceTracker) Snapshot(ctx context.Context) error {
	cents, err := b.gateway.Balance(ctx)
	if err != nil {
		return err
	}
	if err := b.balances.Add(ctx, domain.BalanceSnapshot{
		BalanceCents: cents,
		TakenAt:      b.now(),
	}); err != nil {
		return err
	}
	b.logger.Debug("balance recorded", slog.Int64("balance_cents", cents))
	return nil
}
