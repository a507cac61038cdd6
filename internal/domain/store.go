package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. The (market_id, side) pair is unique
// across the whole table; that constraint is the ledger's only concurrency
// control, so Add and Reopen resolve conflicts instead of erroring.
type PositionStore interface {
	// Add inserts a position. If a row already exists for (market_id, side)
	// the insert is a no-op and Add returns (false, nil).
	Add(ctx context.Context, pos Position) (bool, error)
	// Reopen resets an existing closed row for (market_id, side) back to an
	// open position with fresh entry data. Returns ErrNotFound if no closed
	// row exists.
	Reopen(ctx context.Context, pos Position) error
	// MarkLive flips a position live and records the confirmed fill price.
	MarkLive(ctx context.Context, id string, fillPrice float64) error
	// Close marks an open position closed with the given exit price. Closing
	// an already-closed position is a no-op.
	Close(ctx context.Context, id string, exitPrice float64) error
	// UpdateExitLevels sets stop loss, take profit, and max hold.
	UpdateExitLevels(ctx context.Context, id string, stopLoss, takeProfit *float64, maxHold *time.Duration) error
	// UpdateQuantity sets the contract count, used when reconciliation
	// confirms a size drift for a still-matching (market_id, side) pair.
	UpdateQuantity(ctx context.Context, id string, quantity int64) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByMarketSide(ctx context.Context, marketID string, side ContractSide) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	CountOpen(ctx context.Context) (int64, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// OrderStore persists exchange orders.
type OrderStore interface {
	Add(ctx context.Context, order Order) error
	// UpdateResult applies the single terminal update for a placement
	// attempt: status plus, when known, exchange order id and fill price.
	UpdateResult(ctx context.Context, id string, status OrderStatus, exchangeOrderID string, fillPrice *float64) error
	GetByID(ctx context.Context, id string) (Order, error)
	// HasActiveOrder reports whether the position has an order still pending
	// or placed. Callers must consult this before issuing a new order.
	HasActiveOrder(ctx context.Context, positionID string) (bool, error)
	ListByPosition(ctx context.Context, positionID string) ([]Order, error)
}

// TradeStore persists the immutable trade log.
type TradeStore interface {
	// Add inserts a trade log unless an equivalent row (same market and side,
	// exit within the duplicate window) already exists. Returns (false, nil)
	// when suppressed.
	Add(ctx context.Context, trade TradeLog) (bool, error)
	List(ctx context.Context, opts ListOpts) ([]TradeLog, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeLog, error)
	PerformanceByStrategy(ctx context.Context, since time.Time) ([]StrategyPerformance, error)
}

// BalanceStore persists account balance snapshots.
type BalanceStore interface {
	Add(ctx context.Context, snap BalanceSnapshot) error
	Latest(ctx context.Context) (BalanceSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]BalanceSnapshot, error)
}

// MetaStore persists one-row operational flags, keyed by name.
type MetaStore interface {
	GetFlag(ctx context.Context, name string) (bool, error)
	SetFlag(ctx context.Context, name string, value bool) error
}

// FlagFirstRunCompleted marks that the first-run adoption pass has executed.
const FlagFirstRunCompleted = "first_run_completed"

// FlagArbHalted marks that multi-leg execution is halted pending manual
// review after a failed liquidation.
const FlagArbHalted = "arb_halted"
