package domain

import "time"

// TradeLog is an immutable record of a closed, tracked position's realized
// outcome. At most one row exists per real exit event; the store suppresses
// duplicates by (market, side) within a short exit-time window.
type TradeLog struct {
	ID         string
	MarketID   string
	Side       ContractSide
	EntryPrice float64
	ExitPrice  float64
	Quantity   int64
	PnL        float64 // (exit - entry) * quantity
	ExitReason string
	Slippage   *float64 // realized exit vs the evaluator's exit price
	Strategy   string
	EnteredAt  time.Time
	ExitedAt   time.Time
}

// BalanceSnapshot is one point-in-time record of the account's cash balance.
type BalanceSnapshot struct {
	ID           int64
	BalanceCents int64
	TakenAt      time.Time
}

// StrategyPerformance aggregates realized outcomes per strategy tag.
type StrategyPerformance struct {
	Strategy string
	Trades   int64
	Wins     int64
	TotalPnL float64
}
