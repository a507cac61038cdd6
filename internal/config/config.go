// Package config defines the top-level configuration for the kalshi trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALSHIBOT_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Decision  DecisionConfig  `toml:"decision"`
	Trading   TradingConfig   `toml:"trading"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials and gateway tuning.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`

	// MinRequestInterval is the fixed pacing delay between outbound calls.
	MinRequestInterval duration `toml:"min_request_interval"`

	// Retry policy for rate-limit and server-error responses.
	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryJitter      float64  `toml:"retry_jitter"`

	// RateLimitPerMinute bounds outbound calls through the shared Redis
	// limiter. Zero disables the distributed limiter.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DecisionConfig holds the AI decision service endpoint.
type DecisionConfig struct {
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// TradingConfig holds the position tracking and execution parameters.
type TradingConfig struct {
	// Live selects real order placement; when false the executor runs the
	// identical bookkeeping path without touching the network.
	Live bool `toml:"live"`

	MaxPositions    int      `toml:"max_positions"`
	PositionSize    int64    `toml:"position_size"` // contracts per entry
	MinConfidence   float64  `toml:"min_confidence"`
	TrackInterval   duration `toml:"track_interval"`
	SyncInterval    duration `toml:"sync_interval"`
	BalanceInterval duration `toml:"balance_interval"`
	TradeInterval   duration `toml:"trade_interval"`

	// CloseDiscount is how far below the evaluator's exit price a closing
	// limit order is priced to cross the spread, as a fraction.
	CloseDiscount float64 `toml:"close_discount"`

	// EmergencyStopPct synthesizes a stop for positions that never had one.
	EmergencyStopPct float64 `toml:"emergency_stop_pct"`

	// Markets is an optional watchlist polled by the trading loop.
	Markets []string `toml:"markets"`
}

// ArbitrageConfig holds multi-leg execution parameters.
type ArbitrageConfig struct {
	Enabled          bool     `toml:"enabled"`
	PriceTolerance   float64  `toml:"price_tolerance"` // dollars per leg
	MinDepth         int64    `toml:"min_depth"`       // contracts at target price
	SizePerLeg       int64    `toml:"size_per_leg"`
	FillPollAttempts int      `toml:"fill_poll_attempts"`
	FillPollInterval duration `toml:"fill_poll_interval"`
}

// ArchiveConfig holds trade-log archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:            "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:              "wss://api.elections.kalshi.com/trade-api/ws/v2",
			MinRequestInterval: duration{100 * time.Millisecond},
			RetryMaxAttempts:   4,
			RetryBaseDelay:     duration{500 * time.Millisecond},
			RetryJitter:        0.2,
			RateLimitPerMinute: 90,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kalshibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "kalshibot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Decision: DecisionConfig{
			Timeout: duration{45 * time.Second},
		},
		Trading: TradingConfig{
			Live:             false,
			MaxPositions:     10,
			PositionSize:     100,
			MinConfidence:    0.6,
			TrackInterval:    duration{1 * time.Minute},
			SyncInterval:     duration{5 * time.Minute},
			BalanceInterval:  duration{15 * time.Minute},
			TradeInterval:    duration{10 * time.Minute},
			CloseDiscount:    0.05,
			EmergencyStopPct: 0.10,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:          false,
			PriceTolerance:   0.01,
			MinDepth:         50,
			SizePerLeg:       25,
			FillPollAttempts: 5,
			FillPollInterval: duration{2 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "partial_fill", "liquidation_failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":     true,
	"track":     true,
	"reconcile": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, track, reconcile, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi credentials are required whenever orders can reach the exchange.
	if c.Trading.Live {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for live trading")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set for live trading")
		}
		if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
			errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.RetryMaxAttempts < 1 {
		errs = append(errs, "kalshi: retry_max_attempts must be >= 1")
	}
	if c.Kalshi.RetryJitter < 0 || c.Kalshi.RetryJitter > 1 {
		errs = append(errs, fmt.Sprintf("kalshi: retry_jitter must be 0-1, got %g", c.Kalshi.RetryJitter))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Trading
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.PositionSize < 1 {
		errs = append(errs, "trading: position_size must be >= 1")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("trading: min_confidence must be 0-1, got %g", c.Trading.MinConfidence))
	}
	if c.Trading.CloseDiscount < 0 || c.Trading.CloseDiscount >= 1 {
		errs = append(errs, fmt.Sprintf("trading: close_discount must be in [0,1), got %g", c.Trading.CloseDiscount))
	}
	if c.Trading.EmergencyStopPct <= 0 || c.Trading.EmergencyStopPct >= 1 {
		errs = append(errs, fmt.Sprintf("trading: emergency_stop_pct must be in (0,1), got %g", c.Trading.EmergencyStopPct))
	}
	if c.Trading.TrackInterval.Duration <= 0 {
		errs = append(errs, "trading: track_interval must be > 0")
	}
	if c.Trading.SyncInterval.Duration <= 0 {
		errs = append(errs, "trading: sync_interval must be > 0")
	}

	// Arbitrage
	if c.Arbitrage.Enabled {
		if c.Arbitrage.PriceTolerance <= 0 {
			errs = append(errs, "arbitrage: price_tolerance must be > 0 when enabled")
		}
		if c.Arbitrage.SizePerLeg < 1 {
			errs = append(errs, "arbitrage: size_per_leg must be >= 1 when enabled")
		}
		if c.Arbitrage.FillPollAttempts < 1 {
			errs = append(errs, "arbitrage: fill_poll_attempts must be >= 1 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
