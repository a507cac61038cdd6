package domain

import "time"

// OrderAction indicates whether the order buys or sells contracts.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle. An order is created pending and
// receives exactly one terminal update per network attempt.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusUnfilled  OrderStatus = "unfilled"
)

// activeOrderStatuses are the statuses that count as in-flight for the
// one-active-order-per-position precondition.
var activeOrderStatuses = []OrderStatus{OrderStatusPending, OrderStatusPlaced}

// ActiveOrderStatuses returns the set of statuses that represent an order
// still working at the exchange.
func ActiveOrderStatuses() []OrderStatus {
	return activeOrderStatuses
}

// Order is a single exchange request and its outcome. PositionID references
// the owning position and is immutable once set.
type Order struct {
	ID              string
	PositionID      string
	MarketID        string
	Side            ContractSide
	Action          OrderAction
	Type            OrderType
	RequestedPrice  float64 // dollars, 0 for market orders
	Quantity        int64
	Status          OrderStatus
	ExchangeOrderID string
	FillPrice       *float64 // set when Status is filled or partial
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the order has reached a final state.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusFailed, OrderStatusCancelled, OrderStatusUnfilled:
		return true
	}
	return false
}
