package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/platform/kalshi"
)

// feedWriteTimeout bounds each cache write triggered by a ticker update.
const feedWriteTimeout = 2 * time.Second

// Feed streams real-time ticker updates from the exchange WebSocket into the
// quote cache, keeping the tracking loop off the REST API for hot markets.
type Feed struct {
	ws     *kalshi.WSClient
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewFeed creates a Feed and registers its cache handler on the WebSocket
// client.
func NewFeed(ws *kalshi.WSClient, quotes domain.QuoteCache, logger *slog.Logger) *Feed {
	f := &Feed{
		ws:     ws,
		quotes: quotes,
		logger: logger.With(slog.String("component", "feed")),
	}
	ws.OnQuote(f.handleQuote)
	return f
}

// Start connects the WebSocket and subscribes to the given market tickers.
func (f *Feed) Start(ctx context.Context, tickers []string) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	if len(tickers) > 0 {
		if err := f.ws.Subscribe(ctx, tickers); err != nil {
			return err
		}
	}
	f.logger.Info("feed started", slog.Int("tickers", len(tickers)))
	return nil
}

// Subscribe adds market tickers to the live subscription set.
func (f *Feed) Subscribe(ctx context.Context, tickers []string) error {
	return f.ws.Subscribe(ctx, tickers)
}

// Close shuts down the WebSocket connection.
func (f *Feed) Close() error {
	return f.ws.Close()
}

func (f *Feed) handleQuote(q domain.MarketQuote) {
	ctx, cancel := context.WithTimeout(context.Background(), feedWriteTimeout)
	defer cancel()

	if err := f.quotes.SetQuote(ctx, q); err != nil {
		f.logger.Warn("cache ticker update",
			slog.String("market_id", q.MarketID), slog.Any("error", err))
	}
}
