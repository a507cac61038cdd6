package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/hebd1/kalshi-ai-trading-bot/internal/blob/s3"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/cache/redis"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/config"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/crypto"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/decision"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/executor"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/notify"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/platform/kalshi"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	OrderStore    domain.OrderStore
	TradeStore    domain.TradeStore
	BalanceStore  domain.BalanceStore
	MetaStore     domain.MetaStore

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Exchange
	Gateway  domain.Gateway
	WSClient *kalshi.WSClient

	// Execution
	Executor    *executor.Executor
	Coordinator *executor.Coordinator

	// Decision service (nil when no endpoint is configured)
	Decision *decision.Client

	// Archival (nil unless archive.enabled)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)
	deps.MetaStore = postgres.NewMetaStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Kalshi gateway ---
	backoff := kalshi.NewBackoff(
		cfg.Kalshi.RetryMaxAttempts,
		cfg.Kalshi.RetryBaseDelay.Duration,
		cfg.Kalshi.RetryJitter,
	)
	gateway := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey, backoff)
	gateway.SetMinRequestInterval(cfg.Kalshi.MinRequestInterval.Duration)
	if cfg.Kalshi.RateLimitPerMinute > 0 {
		gateway.SetRateLimiter(deps.RateLimiter, cfg.Kalshi.RateLimitPerMinute)
	}

	if cfg.Trading.Live {
		keyBytes, err := crypto.LoadKey(crypto.KeyConfig{
			PlainKeyPath:     cfg.Kalshi.RsaPrivateKeyPath,
			EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
			KeyPassword:      cfg.Kalshi.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi signing key: %w", err)
		}
		if err := gateway.SetRSAPrivateKey(keyBytes); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi signing key: %w", err)
		}
	}
	deps.Gateway = gateway
	deps.WSClient = kalshi.NewWSClient(cfg.Kalshi.WsURL)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Execution ---
	deps.Executor = executor.New(
		deps.Gateway, deps.PositionStore, deps.OrderStore, deps.TradeStore,
		executor.Config{
			Paper:         !cfg.Trading.Live,
			CloseDiscount: cfg.Trading.CloseDiscount,
		},
		logger,
	)
	deps.Coordinator = executor.NewCoordinator(
		deps.Gateway, deps.PositionStore, deps.OrderStore, deps.MetaStore,
		deps.Executor, deps.Notifier,
		executor.MultiLegConfig{
			PriceTolerance:   cfg.Arbitrage.PriceTolerance,
			MinDepth:         cfg.Arbitrage.MinDepth,
			FillPollAttempts: cfg.Arbitrage.FillPollAttempts,
			FillPollInterval: cfg.Arbitrage.FillPollInterval.Duration,
		},
		logger,
	)

	// --- Decision service ---
	if cfg.Decision.BaseURL != "" {
		deps.Decision = decision.NewClient(decision.Config{
			BaseURL: cfg.Decision.BaseURL,
			ApiKey:  cfg.Decision.ApiKey,
			Timeout: cfg.Decision.Timeout.Duration,
		}, logger)
	}

	// --- S3 archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.TradeStore,
			deps.BalanceStore,
		)
	}

	return deps, cleanup, nil
}
