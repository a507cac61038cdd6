package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis string keys holding a
// JSON-encoded quote. Each entry expires after the configured TTL so the
// tracking loop falls back to the REST API instead of acting on stale prices.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A zero ttl
// defaults to 30 seconds.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

type cachedQuote struct {
	MarketID  string  `json:"market_id"`
	YesBid    float64 `json:"yes_bid"`
	YesAsk    float64 `json:"yes_ask"`
	NoBid     float64 `json:"no_bid"`
	NoAsk     float64 `json:"no_ask"`
	LastPrice float64 `json:"last_price"`
	Status    string  `json:"status"`
	Result    string  `json:"result,omitempty"`
	ExpiresAt int64   `json:"expires_at"`
	FetchedAt int64   `json:"fetched_at"`
}

// SetQuote stores the quote under its market key with the cache TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.MarketQuote) error {
	payload, err := json.Marshal(cachedQuote{
		MarketID:  q.MarketID,
		YesBid:    q.YesBid,
		YesAsk:    q.YesAsk,
		NoBid:     q.NoBid,
		NoAsk:     q.NoAsk,
		LastPrice: q.LastPrice,
		Status:    string(q.Status),
		Result:    string(q.Result),
		ExpiresAt: q.ExpiresAt.UnixNano(),
		FetchedAt: q.FetchedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", q.MarketID, err)
	}

	if err := qc.rdb.Set(ctx, quoteKey(q.MarketID), payload, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID, err)
	}
	return nil
}

// GetQuote retrieves the cached quote for a market. It returns
// domain.ErrNotFound when no fresh quote exists.
func (qc *QuoteCache) GetQuote(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	raw, err := qc.rdb.Get(ctx, quoteKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketQuote{}, domain.ErrNotFound
		}
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}

	var cq cachedQuote
	if err := json.Unmarshal(raw, &cq); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", marketID, err)
	}

	return domain.MarketQuote{
		MarketID:  cq.MarketID,
		YesBid:    cq.YesBid,
		YesAsk:    cq.YesAsk,
		NoBid:     cq.NoBid,
		NoAsk:     cq.NoAsk,
		LastPrice: cq.LastPrice,
		Status:    domain.MarketStatus(cq.Status),
		Result:    domain.ContractSide(cq.Result),
		ExpiresAt: time.Unix(0, cq.ExpiresAt),
		FetchedAt: time.Unix(0, cq.FetchedAt),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
