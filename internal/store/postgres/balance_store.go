package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Add records a balance snapshot.
func (s *BalanceStore) Add(ctx context.Context, snap domain.BalanceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balance_history (balance_cents, taken_at) VALUES ($1, $2)`,
		snap.BalanceCents, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("postgres: add balance snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent balance snapshot.
func (s *BalanceStore) Latest(ctx context.Context) (domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance_cents, taken_at FROM balance_history
		 ORDER BY taken_at DESC LIMIT 1`).
		Scan(&snap.ID, &snap.BalanceCents, &snap.TakenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.BalanceSnapshot{}, domain.ErrNotFound
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("postgres: latest balance: %w", err)
	}
	return snap, nil
}

// List returns balance snapshots with pagination and optional time filtering.
func (s *BalanceStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.BalanceSnapshot, error) {
	query := `SELECT id, balance_cents, taken_at FROM balance_history WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND taken_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND taken_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY taken_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balance history: %w", err)
	}
	defer rows.Close()

	var snaps []domain.BalanceSnapshot
	for rows.Next() {
		var snap domain.BalanceSnapshot
		if err := rows.Scan(&snap.ID, &snap.BalanceCents, &snap.TakenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance history: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
