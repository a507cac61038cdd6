package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

// fakeGateway is an in-memory exchange. Exchange order ids are derived from
// the market id so concurrent placements stay deterministic.
type fakeGateway struct {
	mu        sync.Mutex
	quotes    map[string]domain.MarketQuote
	books     map[string]domain.Orderbook
	fills     map[string][]domain.Fill
	placeErrs map[string]error
	placed    []domain.OrderRequest
	cancelled []string
}

var _ domain.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		quotes:    make(map[string]domain.MarketQuote),
		books:     make(map[string]domain.Orderbook),
		fills:     make(map[string][]domain.Fill),
		placeErrs: make(map[string]error),
	}
}

func (g *fakeGateway) Balance(ctx context.Context) (int64, error) { return 0, nil }

func (g *fakeGateway) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	return nil, nil
}

func (g *fakeGateway) Market(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[marketID]
	if !ok {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (g *fakeGateway) Orderbook(ctx context.Context, marketID string, depth int) (domain.Orderbook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.books[marketID], nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.placeErrs[req.MarketID]; err != nil {
		return "", err
	}
	g.placed = append(g.placed, req)
	return "ex-" + req.MarketID, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeGateway) Fills(ctx context.Context, marketID string, limit int) ([]domain.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fills[marketID], nil
}

func (g *fakeGateway) placedOrders() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderRequest(nil), g.placed...)
}

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	closeErrs map[string]error
}

var _ domain.PositionStore = (*fakePositionStore)(nil)

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: make(map[string]domain.Position),
		closeErrs: make(map[string]error),
	}
}

func (s *fakePositionStore) Add(ctx context.Context, pos domain.Position) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.MarketID == pos.MarketID && p.Side == pos.Side {
			return false, nil
		}
	}
	s.positions[pos.ID] = pos
	return true, nil
}

func (s *fakePositionStore) Reopen(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.positions {
		if p.MarketID == pos.MarketID && p.Side == pos.Side && p.Status == domain.PositionStatusClosed {
			delete(s.positions, id)
			s.positions[pos.ID] = pos
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakePositionStore) MarkLive(ctx context.Context, id string, fillPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Live = true
	p.EntryPrice = fillPrice
	s.positions[id] = p
	return nil
}

func (s *fakePositionStore) Close(ctx context.Context, id string, exitPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeErrs[id]; err != nil {
		return err
	}
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status == domain.PositionStatusClosed {
		return nil
	}
	p.Status = domain.PositionStatusClosed
	p.ExitPrice = &exitPrice
	s.positions[id] = p
	return nil
}

func (s *fakePositionStore) UpdateExitLevels(ctx context.Context, id string, stopLoss, takeProfit *float64, maxHold *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.StopLossPrice = stopLoss
	p.TakeProfitPrice = takeProfit
	p.MaxHold = maxHold
	s.positions[id] = p
	return nil
}

func (s *fakePositionStore) UpdateQuantity(ctx context.Context, id string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Quantity = quantity
	s.positions[id] = p
	return nil
}

func (s *fakePositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) GetOpenByMarketSide(ctx context.Context, marketID string, side domain.ContractSide) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.MarketID == marketID && p.Side == side && p.Status == domain.PositionStatusOpen {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) CountOpen(ctx context.Context) (int64, error) {
	open, _ := s.ListOpen(ctx)
	return int64(len(open)), nil
}

func (s *fakePositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *fakePositionStore) get(id string) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[id]
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	addErr error
}

var _ domain.OrderStore = (*fakeOrderStore)(nil)

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]domain.Order)}
}

func (s *fakeOrderStore) Add(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) UpdateResult(ctx context.Context, id string, status domain.OrderStatus, exchangeOrderID string, fillPrice *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	o.ExchangeOrderID = exchangeOrderID
	o.FillPrice = fillPrice
	s.orders[id] = o
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) HasActiveOrder(ctx context.Context, positionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PositionID != positionID {
			continue
		}
		if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusPlaced {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeOrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.PositionID == positionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) byAction(action domain.OrderAction) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Action == action {
			out = append(out, o)
		}
	}
	return out
}

type fakeTradeStore struct {
	mu     sync.Mutex
	logs   []domain.TradeLog
	addErr error
}

var _ domain.TradeStore = (*fakeTradeStore)(nil)

func (s *fakeTradeStore) Add(ctx context.Context, trade domain.TradeLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return false, s.addErr
	}
	s.logs = append(s.logs, trade)
	return true, nil
}

func (s *fakeTradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeLog, error) {
	return nil, nil
}

func (s *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeLog, error) {
	return nil, nil
}

func (s *fakeTradeStore) PerformanceByStrategy(ctx context.Context, since time.Time) ([]domain.StrategyPerformance, error) {
	return nil, nil
}

func (s *fakeTradeStore) all() []domain.TradeLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TradeLog(nil), s.logs...)
}

type fakeMetaStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

var _ domain.MetaStore = (*fakeMetaStore)(nil)

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{flags: make(map[string]bool)}
}

func (s *fakeMetaStore) GetFlag(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[name], nil
}

func (s *fakeMetaStore) SetFlag(ctx context.Context, name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = value
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

var _ domain.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []string
	for _, note := range n.notes {
		events = append(events, string(note.Event))
	}
	return events
}

func (n *fakeNotifier) last() domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notes) == 0 {
		return domain.Notification{}
	}
	return n.notes[len(n.notes)-1]
}
