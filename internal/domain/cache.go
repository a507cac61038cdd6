package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to recent market quotes so the tracking
// loop does not hit the REST API for every open position every tick.
type QuoteCache interface {
	SetQuote(ctx context.Context, quote MarketQuote) error
	// GetQuote returns ErrNotFound when no fresh quote is cached.
	GetQuote(ctx context.Context, marketID string) (MarketQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
