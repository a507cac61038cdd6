package service

import (
	"context"
	"log/slog"
	"time"
)

// ArchiveBackend is the export surface the rotation loop drives.
type ArchiveBackend interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveBalances(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveRotator periodically exports ledger history older than the retention
// window to object storage.
type ArchiveRotator struct {
	backend   ArchiveBackend
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// NewArchiveRotator creates an ArchiveRotator keeping retentionDays of
// history in the primary store.
func NewArchiveRotator(backend ArchiveBackend, interval time.Duration, retentionDays int, logger *slog.Logger) *ArchiveRotator {
	return &ArchiveRotator{
		backend:   backend,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archive")),
		now:       time.Now,
	}
}

// Run drives Rotate at the configured interval until the context is cancelled.
func (a *ArchiveRotator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Rotate(ctx); err != nil {
				a.logger.Error("archive rotation failed", slog.Any("error", err))
			}
		}
	}
}

// Rotate exports everything older than the retention cutoff.
func (a *ArchiveRotator) Rotate(ctx context.Context) error {
	cutoff := a.now().Add(-a.retention)

	trades, err := a.backend.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return err
	}
	balances, err := a.backend.ArchiveBalances(ctx, cutoff)
	if err != nil {
		return err
	}

	if trades > 0 || balances > 0 {
		a.logger.Info("archive rotated",
			slog.Int64("trades", trades),
			slog.Int64("balances", balances),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
