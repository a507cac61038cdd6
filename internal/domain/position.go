package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ContractSide is the side of a binary contract the bot holds.
type ContractSide string

const (
	SideYes ContractSide = "YES"
	SideNo  ContractSide = "NO"
)

// Strategy tags recorded on positions. sync_recovery marks positions adopted
// by the reconciler mid-run; legacy_untracked marks positions adopted on the
// very first run against a non-empty exchange account.
const (
	StrategyAIDecision      = "ai_decision"
	StrategyArbitrage       = "arbitrage"
	StrategySyncRecovery    = "sync_recovery"
	StrategyLegacyUntracked = "legacy_untracked"
)

// Position is the bot's belief about a held contract on one side of a market.
// Open positions are unique per (MarketID, Side); the positions table enforces
// that and PositionStore.Add treats a duplicate as a no-op.
type Position struct {
	ID         string
	MarketID   string
	Side       ContractSide
	EntryPrice float64 // dollars per contract, 0..1
	Quantity   int64

	// Live is false between writing the row and receiving fill confirmation
	// from the exchange. A non-live position is a pending order's shadow.
	Live bool

	// Tracked controls whether this position participates in realized P&L.
	// Positions adopted from pre-existing exchange state on first run are
	// untracked: they count toward exposure but never produce a trade log.
	Tracked bool

	Status   PositionStatus
	Strategy string

	StopLossPrice   *float64
	TakeProfitPrice *float64
	MaxHold         *time.Duration

	OpenedAt  time.Time
	ClosedAt  *time.Time
	ExitPrice *float64
}

// HoldingFor returns how long the position has been held as of now.
func (p Position) HoldingFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// PnLAt computes the realized P&L if the position were closed at exitPrice.
func (p Position) PnLAt(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * float64(p.Quantity)
}
