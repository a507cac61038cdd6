package kalshi

import (
	"encoding/json"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// kalshiMarket represents a market as returned by the Kalshi REST API.
// All prices are in cents (1-99).
type kalshiMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Status         string `json:"status"` // "open", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	OpenInterest   int64  `json:"open_interest"`
	ExpirationTime string `json:"expiration_time"`
	Result         string `json:"result"` // "yes", "no", "" (unsettled)
}

// toQuote converts the DTO to a domain quote in dollars.
func (m kalshiMarket) toQuote(now time.Time) domain.MarketQuote {
	q := domain.MarketQuote{
		MarketID:  m.Ticker,
		YesBid:    centsToDollars(m.YesBid),
		YesAsk:    centsToDollars(m.YesAsk),
		NoBid:     centsToDollars(m.NoBid),
		NoAsk:     centsToDollars(m.NoAsk),
		LastPrice: centsToDollars(m.LastPrice),
		Status:    domain.MarketStatus(m.Status),
		FetchedAt: now,
	}
	switch m.Result {
	case "yes":
		q.Result = domain.SideYes
	case "no":
		q.Result = domain.SideNo
	}
	if t, err := time.Parse(time.RFC3339, m.ExpirationTime); err == nil {
		q.ExpiresAt = t
	}
	return q
}

// kalshiOrderbook represents the orderbook for a Kalshi market. Each entry is
// a [price_cents, quantity] pair of resting bids.
type kalshiOrderbook struct {
	Yes [][2]int64 `json:"yes"`
	No  [][2]int64 `json:"no"`
}

func (ob kalshiOrderbook) toDomain(ticker string) domain.Orderbook {
	book := domain.Orderbook{MarketID: ticker}
	for _, lvl := range ob.Yes {
		book.Yes = append(book.Yes, domain.OrderbookLevel{Price: centsToDollars(lvl[0]), Quantity: lvl[1]})
	}
	for _, lvl := range ob.No {
		book.No = append(book.No, domain.OrderbookLevel{Price: centsToDollars(lvl[0]), Quantity: lvl[1]})
	}
	return book
}

// kalshiOrder represents an order to be placed on the Kalshi exchange.
type kalshiOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // limit price in cents
	NoPrice       *int64 `json:"no_price,omitempty"`
}

// kalshiOrderResponse represents the API response after placing an order.
type kalshiOrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		YesPrice       int64  `json:"yes_price"`
		NoPrice        int64  `json:"no_price"`
		RemainingCount int64  `json:"remaining_count"`
		TakerFillCount int64  `json:"taker_fill_count"`
		TakerFillCost  int64  `json:"taker_fill_cost"`
	} `json:"order"`
}

// kalshiPosition is one entry of the portfolio positions endpoint. Position
// is signed: positive for YES exposure, negative for NO.
type kalshiPosition struct {
	Ticker   string `json:"ticker"`
	Position int64  `json:"position"`
}

// kalshiFill is one execution from the portfolio fills endpoint.
type kalshiFill struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Count       int64  `json:"count"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
	CreatedTime string `json:"created_time"`
}

func (f kalshiFill) toDomain() domain.Fill {
	fill := domain.Fill{
		OrderID:  f.OrderID,
		MarketID: f.Ticker,
		Count:    f.Count,
	}
	switch f.Side {
	case "no":
		fill.Side = domain.SideNo
		fill.Price = centsToDollars(f.NoPrice)
	default:
		fill.Side = domain.SideYes
		fill.Price = centsToDollars(f.YesPrice)
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		fill.FilledAt = t
	}
	return fill
}

// kalshiErrorResponse represents a Kalshi API error response.
type kalshiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// wsMessage is the envelope for Kalshi WebSocket messages.
type wsMessage struct {
	Type string          `json:"type"` // "ticker", "orderbook_delta", etc.
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// wsTicker is the ticker channel payload, prices in cents.
type wsTicker struct {
	Ticker    string `json:"market_ticker"`
	YesBid    int64  `json:"yes_bid"`
	YesAsk    int64  `json:"yes_ask"`
	NoBid     int64  `json:"no_bid"`
	NoAsk     int64  `json:"no_ask"`
	LastPrice int64  `json:"price"`
}

func (t wsTicker) toQuote(now time.Time) domain.MarketQuote {
	return domain.MarketQuote{
		MarketID:  t.Ticker,
		YesBid:    centsToDollars(t.YesBid),
		YesAsk:    centsToDollars(t.YesAsk),
		NoBid:     centsToDollars(t.NoBid),
		NoAsk:     centsToDollars(t.NoAsk),
		LastPrice: centsToDollars(t.LastPrice),
		Status:    domain.MarketStatusOpen,
		FetchedAt: now,
	}
}

// wsSubscribeCmd is the command sent to subscribe to WebSocket channels.
type wsSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsSubscribeParams `json:"params"`
}

// wsSubscribeParams defines the subscription parameters.
type wsSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

func centsToDollars(cents int64) float64 {
	return float64(cents) / 100.0
}

func dollarsToCents(dollars float64) int64 {
	return int64(dollars*100.0 + 0.5)
}
