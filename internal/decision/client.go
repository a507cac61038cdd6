// Package decision calls the external AI decision service. The engine treats
// the service as a black box that maps a market snapshot to a buy/sell/hold
// recommendation.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// Config holds the decision service endpoint parameters.
type Config struct {
	BaseURL string
	ApiKey  string
	Timeout time.Duration
}

// Client is an HTTP client for the decision service.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a Client for the given endpoint. A zero timeout defaults
// to 45 seconds.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	if cfg.ApiKey != "" {
		rc.SetHeader("Authorization", "Bearer "+cfg.ApiKey)
	}

	return &Client{
		http:   rc,
		logger: logger.With(slog.String("component", "decision")),
	}
}

type decideRequest struct {
	MarketID  string  `json:"market_id"`
	YesBid    float64 `json:"yes_bid"`
	YesAsk    float64 `json:"yes_ask"`
	NoBid     float64 `json:"no_bid"`
	NoAsk     float64 `json:"no_ask"`
	LastPrice float64 `json:"last_price"`
	ExpiresAt string  `json:"expires_at"`
}

type decideResponse struct {
	Action     string   `json:"action"`
	Side       string   `json:"side"`
	Confidence float64  `json:"confidence"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	Reasoning  string   `json:"reasoning"`
}

// Decide submits a market snapshot and returns the service's recommendation.
func (c *Client) Decide(ctx context.Context, quote domain.MarketQuote) (domain.Decision, error) {
	var out decideResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(decideRequest{
			MarketID:  quote.MarketID,
			YesBid:    quote.YesBid,
			YesAsk:    quote.YesAsk,
			NoBid:     quote.NoBid,
			NoAsk:     quote.NoAsk,
			LastPrice: quote.LastPrice,
			ExpiresAt: quote.ExpiresAt.Format(time.RFC3339),
		}).
		SetResult(&out).
		Post("/v1/decide")
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision: decide %s: %w", quote.MarketID, err)
	}
	if resp.IsError() {
		return domain.Decision{}, fmt.Errorf("decision: decide %s: status %d: %s",
			quote.MarketID, resp.StatusCode(), resp.String())
	}

	d := domain.Decision{
		MarketID:   quote.MarketID,
		Action:     domain.DecisionAction(strings.ToLower(out.Action)),
		Side:       domain.ContractSide(strings.ToUpper(out.Side)),
		Confidence: out.Confidence,
		LimitPrice: out.LimitPrice,
		Reasoning:  out.Reasoning,
	}

	switch d.Action {
	case domain.DecisionBuy, domain.DecisionSell, domain.DecisionHold:
	default:
		return domain.Decision{}, fmt.Errorf("decision: decide %s: unknown action %q", quote.MarketID, out.Action)
	}
	if d.Action != domain.DecisionHold && d.Side != domain.SideYes && d.Side != domain.SideNo {
		return domain.Decision{}, fmt.Errorf("decision: decide %s: unknown side %q", quote.MarketID, out.Side)
	}

	c.logger.Debug("decision received",
		slog.String("market_id", d.MarketID),
		slog.String("action", string(d.Action)),
		slog.Float64("confidence", d.Confidence))
	return d, nil
}
