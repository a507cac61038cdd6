package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// duplicateWindow bounds how close together two trade logs for the same
// market and side may sit before the second is treated as a duplicate of the
// first (retried closes, overlapping loops).
const duplicateWindow = time.Minute

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, side, entry_price, exit_price,
	quantity, pnl, exit_reason, slippage, strategy, entered_at, exited_at`

func scanTrades(rows pgx.Rows) ([]domain.TradeLog, error) {
	var trades []domain.TradeLog
	for rows.Next() {
		var t domain.TradeLog
		var side string

		if err := rows.Scan(
			&t.ID, &t.MarketID, &side,
			&t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.PnL, &t.ExitReason, &t.Slippage, &t.Strategy,
			&t.EnteredAt, &t.ExitedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.ContractSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Add inserts a trade log unless an equivalent row already exists: same
// market and side with an exit timestamp inside the duplicate window. The
// insert and the duplicate check run as one statement so overlapping loops
// cannot both get through.
func (s *TradeStore) Add(ctx context.Context, t domain.TradeLog) (bool, error) {
	const query = `
		INSERT INTO trade_logs (
			id, market_id, side, entry_price, exit_price,
			quantity, pnl, exit_reason, slippage, strategy,
			entered_at, exited_at
		)
		SELECT
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		WHERE NOT EXISTS (
			SELECT 1 FROM trade_logs
			WHERE market_id = $2
			  AND side = $3
			  AND exited_at BETWEEN $12::timestamptz - $13::interval
			                    AND $12::timestamptz + $13::interval
		)`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, string(t.Side),
		t.EntryPrice, t.ExitPrice,
		t.Quantity, t.PnL, t.ExitReason, t.Slippage, t.Strategy,
		t.EnteredAt, t.ExitedAt, duplicateWindow,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: add trade log %s/%s: %w", t.MarketID, t.Side, err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns trade logs with pagination and optional time filtering.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeLog, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_logs WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND exited_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND exited_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY exited_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade logs: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade logs: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trade logs that exited strictly before the cutoff,
// used by the archiver.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_logs
		 WHERE exited_at < $1
		 ORDER BY exited_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade logs before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade logs before cutoff: %w", err)
	}
	return trades, nil
}

// PerformanceByStrategy aggregates realized results per strategy tag since
// the given time.
func (s *TradeStore) PerformanceByStrategy(ctx context.Context, since time.Time) ([]domain.StrategyPerformance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT strategy,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE pnl > 0),
		        COALESCE(SUM(pnl), 0)
		 FROM trade_logs
		 WHERE exited_at >= $1
		 GROUP BY strategy
		 ORDER BY strategy`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: performance by strategy: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyPerformance
	for rows.Next() {
		var p domain.StrategyPerformance
		if err := rows.Scan(&p.Strategy, &p.Trades, &p.Wins, &p.TotalPnL); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
