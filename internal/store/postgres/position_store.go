package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// UNIQUE(market_id, side) constraint is the ledger's only concurrency
// control: Add resolves conflicts as no-ops instead of erroring.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, side, entry_price, quantity,
	live, tracked, status, strategy, stop_loss_price, take_profit_price,
	max_hold_seconds, opened_at, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var maxHoldSeconds *int64

	err := row.Scan(
		&p.ID, &p.MarketID, &side,
		&p.EntryPrice, &p.Quantity,
		&p.Live, &p.Tracked,
		&status, &p.Strategy,
		&p.StopLossPrice, &p.TakeProfitPrice, &maxHoldSeconds,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.ContractSide(side)
	p.Status = domain.PositionStatus(status)
	if maxHoldSeconds != nil {
		d := time.Duration(*maxHoldSeconds) * time.Second
		p.MaxHold = &d
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func maxHoldSeconds(p domain.Position) *int64 {
	if p.MaxHold == nil {
		return nil
	}
	s := int64(p.MaxHold.Seconds())
	return &s
}

// Add inserts a new position. A conflicting open or closed row for the same
// (market_id, side) makes the insert a silent no-op; Add reports whether a
// row was actually written.
func (s *PositionStore) Add(ctx context.Context, p domain.Position) (bool, error) {
	const query = `
		INSERT INTO positions (
			id, market_id, side, entry_price, quantity,
			live, tracked, status, strategy,
			stop_loss_price, take_profit_price, max_hold_seconds,
			opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, NOW()
		)
		ON CONFLICT (market_id, side) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, string(p.Side),
		p.EntryPrice, p.Quantity,
		p.Live, p.Tracked,
		string(p.Status), p.Strategy,
		p.StopLossPrice, p.TakeProfitPrice, maxHoldSeconds(p),
		p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: add position %s/%s: %w", p.MarketID, p.Side, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reopen resets the closed row for (market_id, side) back to an open
// position carrying the new entry data. The row keeps its original id.
func (s *PositionStore) Reopen(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			entry_price       = $3,
			quantity          = $4,
			live              = $5,
			tracked           = $6,
			status            = 'open',
			strategy          = $7,
			stop_loss_price   = $8,
			take_profit_price = $9,
			max_hold_seconds  = $10,
			opened_at         = $11,
			closed_at         = NULL,
			exit_price        = NULL,
			updated_at        = NOW()
		WHERE market_id = $1 AND side = $2 AND status = 'closed'`

	tag, err := s.pool.Exec(ctx, query,
		p.MarketID, string(p.Side),
		p.EntryPrice, p.Quantity,
		p.Live, p.Tracked, p.Strategy,
		p.StopLossPrice, p.TakeProfitPrice, maxHoldSeconds(p),
		p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: reopen position %s/%s: %w", p.MarketID, p.Side, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkLive flips a position live and records the confirmed fill price as the
// effective entry price.
func (s *PositionStore) MarkLive(ctx context.Context, id string, fillPrice float64) error {
	const query = `
		UPDATE positions SET
			live        = TRUE,
			entry_price = $2,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, fillPrice)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s live: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks an open position closed with the exit price. Closing an
// already-closed position affects zero rows and is not an error, which keeps
// the tracker and reconciler safe to overlap.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			exit_price = $2,
			closed_at  = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'`

	_, err := s.pool.Exec(ctx, query, id, exitPrice)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	return nil
}

// UpdateExitLevels sets stop loss, take profit, and max hold for a position.
func (s *PositionStore) UpdateExitLevels(ctx context.Context, id string, stopLoss, takeProfit *float64, maxHold *time.Duration) error {
	var seconds *int64
	if maxHold != nil {
		v := int64(maxHold.Seconds())
		seconds = &v
	}

	const query = `
		UPDATE positions SET
			stop_loss_price   = $2,
			take_profit_price = $3,
			max_hold_seconds  = $4,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, stopLoss, takeProfit, seconds)
	if err != nil {
		return fmt.Errorf("postgres: update exit levels %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateQuantity sets the contract count for a position.
func (s *PositionStore) UpdateQuantity(ctx context.Context, id string, quantity int64) error {
	const query = `
		UPDATE positions SET
			quantity   = $2,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, quantity)
	if err != nil {
		return fmt.Errorf("postgres: update quantity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByMarketSide retrieves the open position for (market_id, side).
func (s *PositionStore) GetOpenByMarketSide(ctx context.Context, marketID string, side domain.ContractSide) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND side = $2 AND status = 'open'`,
		marketID, string(side))

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%s: %w", marketID, side, err)
	}
	return p, nil
}

// ListOpen returns all open positions, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// CountOpen returns the number of open positions.
func (s *PositionStore) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = 'open'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions: %w", err)
	}
	return n, nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
