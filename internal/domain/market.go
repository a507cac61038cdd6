package domain

import "time"

// MarketStatus is the exchange-reported lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// MarketQuote is a snapshot of one market's tradable prices in dollars.
type MarketQuote struct {
	MarketID  string
	YesBid    float64
	YesAsk    float64
	NoBid     float64
	NoAsk     float64
	LastPrice float64
	Status    MarketStatus
	Result    ContractSide // settlement result, empty until settled
	ExpiresAt time.Time
	FetchedAt time.Time
}

// PriceFor returns the exit-relevant (sellable) price for the given side.
// When the bid is empty it falls back to the last traded price, with the NO
// side derived as the complement of the YES last price.
func (q MarketQuote) PriceFor(side ContractSide) float64 {
	if side == SideNo {
		if q.NoBid > 0 {
			return q.NoBid
		}
		return 1.0 - q.LastPrice
	}
	if q.YesBid > 0 {
		return q.YesBid
	}
	return q.LastPrice
}

// AskFor returns the buyable price for the given side.
func (q MarketQuote) AskFor(side ContractSide) float64 {
	if side == SideNo {
		return q.NoAsk
	}
	return q.YesAsk
}

// Resolved reports whether the market has stopped trading.
func (q MarketQuote) Resolved() bool {
	return q.Status == MarketStatusClosed || q.Status == MarketStatusSettled
}

// ExchangePosition is one entry in the exchange's authoritative position list.
// Quantity is signed: positive means YES contracts, negative means NO.
type ExchangePosition struct {
	MarketID string
	Quantity int64
}

// Side derives the held contract side from the signed quantity.
func (e ExchangePosition) Side() ContractSide {
	if e.Quantity < 0 {
		return SideNo
	}
	return SideYes
}

// AbsQuantity returns the unsigned contract count.
func (e ExchangePosition) AbsQuantity() int64 {
	if e.Quantity < 0 {
		return -e.Quantity
	}
	return e.Quantity
}

// OrderbookLevel is a single price level with resting quantity.
type OrderbookLevel struct {
	Price    float64 // dollars
	Quantity int64
}

// Orderbook is the visible depth for one market, bids only per side.
type Orderbook struct {
	MarketID string
	Yes      []OrderbookLevel
	No       []OrderbookLevel
}

// AskDepth returns the total quantity available to buy the given side at or
// below the limit price. On a binary book, buying YES lifts resting NO bids
// (a NO bid at p sells YES at 1-p) and vice versa.
func (b Orderbook) AskDepth(side ContractSide, limit float64) int64 {
	opposite := b.No
	if side == SideNo {
		opposite = b.Yes
	}
	var depth int64
	for _, lvl := range opposite {
		if 1.0-lvl.Price <= limit {
			depth += lvl.Quantity
		}
	}
	return depth
}

// Fill is one execution record from the exchange's fills endpoint.
type Fill struct {
	OrderID  string
	MarketID string
	Side     ContractSide
	Count    int64
	Price    float64 // dollars
	FilledAt time.Time
}
