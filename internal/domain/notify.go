package domain

import "context"

// EventType classifies operator notifications so delivery channels can be
// filtered per event.
type EventType string

const (
	EventPositionClosed    EventType = "position_closed"
	EventPartialFill       EventType = "partial_fill"
	EventLiquidationFailed EventType = "liquidation_failed"
)

// Notification is one operator alert. The structured fields carry enough
// position context to reconstruct what happened without opening the database.
type Notification struct {
	Event   EventType
	Title   string
	Message string

	// Optional position context; zero values are omitted from rendering.
	MarketID string
	Side     ContractSide
	Price    float64
	Quantity int64
	PnL      *float64
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
