package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, position_id, market_id, side, action, order_type,
	requested_price, quantity, status, exchange_order_id, fill_price,
	created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, action, orderType, status string

	err := row.Scan(
		&o.ID, &o.PositionID, &o.MarketID,
		&side, &action, &orderType,
		&o.RequestedPrice, &o.Quantity,
		&status, &o.ExchangeOrderID, &o.FillPrice,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.ContractSide(side)
	o.Action = domain.OrderAction(action)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Add inserts a new order row, normally in pending state.
func (s *OrderStore) Add(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, position_id, market_id, side, action, order_type,
			requested_price, quantity, status, exchange_order_id, fill_price,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.MarketID,
		string(o.Side), string(o.Action), string(o.Type),
		o.RequestedPrice, o.Quantity,
		string(o.Status), o.ExchangeOrderID, o.FillPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: add order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateResult applies the terminal update for a placement attempt. The
// position_id column is never touched here; an order's owning position is
// immutable once written.
func (s *OrderStore) UpdateResult(ctx context.Context, id string, status domain.OrderStatus, exchangeOrderID string, fillPrice *float64) error {
	const query = `
		UPDATE orders SET
			status            = $2,
			exchange_order_id = COALESCE(NULLIF($3, ''), exchange_order_id),
			fill_price        = COALESCE($4, fill_price),
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), exchangeOrderID, fillPrice)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// HasActiveOrder reports whether the position has an order still pending or
// placed at the exchange.
func (s *OrderStore) HasActiveOrder(ctx context.Context, positionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE position_id = $1 AND status IN ('pending', 'placed')
		)`, positionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check active order for %s: %w", positionID, err)
	}
	return exists, nil
}

// ListByPosition returns all orders belonging to a position, oldest first.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE position_id = $1
		 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan orders for %s: %w", positionID, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
