package domain

import "context"

// OrderRequest is the exchange-facing shape of one order.
type OrderRequest struct {
	MarketID      string
	ClientOrderID string // idempotency key, one per placement attempt
	Side          ContractSide
	Action        OrderAction
	Type          OrderType
	Quantity      int64
	LimitPrice    *float64 // dollars, required for limit orders
}

// Gateway is the authenticated, rate-limited exchange client. Implementations
// retry transient failures internally; a returned error is final for this
// attempt. Market returns ErrNotFound for expired or settled tickers.
type Gateway interface {
	Balance(ctx context.Context) (int64, error)
	Positions(ctx context.Context) ([]ExchangePosition, error)
	Market(ctx context.Context, marketID string) (MarketQuote, error)
	Orderbook(ctx context.Context, marketID string, depth int) (Orderbook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	Fills(ctx context.Context, marketID string, limit int) ([]Fill, error)
}
