// Package kalshi implements the exchange gateway for the Kalshi trade API,
// including signed-request authentication, pacing, and bounded retries.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// errTransient marks a retryable server-side failure (5xx).
var errTransient = errors.New("transient server error")

// rateLimitKey is the shared limiter key for all outbound Kalshi calls.
const rateLimitKey = "kalshi:rest"

// Client is the REST gateway for the Kalshi exchange API. It serializes
// outbound calls behind a minimum inter-request delay and retries transient
// failures per the configured Backoff.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	backoff    Backoff

	minInterval time.Duration
	limiter     domain.RateLimiter
	limitPerMin int

	paceMu      sync.Mutex
	lastRequest time.Time

	now func() time.Time
}

// NewClient creates a new Kalshi gateway.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string, backoff Backoff) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		backoff:  backoff,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minInterval: 100 * time.Millisecond,
		now:         time.Now,
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// SetMinRequestInterval overrides the fixed pacing delay between requests.
func (c *Client) SetMinRequestInterval(d time.Duration) {
	c.minInterval = d
}

// SetRateLimiter enables the shared distributed limiter for outbound calls,
// bounding them to limitPerMinute across all bot instances.
func (c *Client) SetRateLimiter(rl domain.RateLimiter, limitPerMinute int) {
	c.limiter = rl
	c.limitPerMin = limitPerMinute
}

// --------------------------------------------------------------------------
// domain.Gateway implementation
// --------------------------------------------------------------------------

// Balance returns the account's available cash balance in cents.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	return resp.Balance, nil
}

// Positions returns every market position with non-zero exposure.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	var out []domain.ExchangePosition
	cursor := ""

	for {
		path := "/portfolio/positions?limit=200"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}

		body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: get positions: %w", err)
		}

		var resp struct {
			MarketPositions []kalshiPosition `json:"market_positions"`
			Cursor          string           `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode positions: %w", err)
		}

		for _, p := range resp.MarketPositions {
			if p.Position == 0 {
				continue
			}
			out = append(out, domain.ExchangePosition{
				MarketID: p.Ticker,
				Quantity: p.Position,
			})
		}

		if resp.Cursor == "" {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// Market returns a single market's quote by ticker. Expired or settled
// tickers that the API no longer serves surface as domain.ErrNotFound.
func (c *Client) Market(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(marketID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("kalshi: get market %s: %w", marketID, err)
	}

	var resp struct {
		Market kalshiMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	quote := resp.Market.toQuote(c.now())
	quote.MarketID = marketID
	return quote, nil
}

// Orderbook returns the current depth for the given market ticker.
func (c *Client) Orderbook(ctx context.Context, marketID string, depth int) (domain.Orderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(marketID))
	if depth > 0 {
		path += "?depth=" + strconv.Itoa(depth)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", marketID, err)
	}

	var resp struct {
		Orderbook kalshiOrderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	return resp.Orderbook.toDomain(marketID), nil
}

// PlaceOrder submits a new order and returns the exchange order id.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if req.Quantity < 1 {
		return "", fmt.Errorf("kalshi: place order: %w: count %d", domain.ErrInvalidOrder, req.Quantity)
	}
	if req.Type == domain.OrderTypeLimit && req.LimitPrice == nil {
		return "", fmt.Errorf("kalshi: place order: %w: limit order without price", domain.ErrInvalidOrder)
	}

	order := kalshiOrder{
		Ticker:        req.MarketID,
		ClientOrderID: req.ClientOrderID,
		Action:        string(req.Action),
		Side:          sideParam(req.Side),
		Type:          string(req.Type),
		Count:         req.Quantity,
	}
	if req.LimitPrice != nil {
		cents := dollarsToCents(*req.LimitPrice)
		if req.Side == domain.SideNo {
			order.NoPrice = &cents
		} else {
			order.YesPrice = &cents
		}
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return "", fmt.Errorf("kalshi: place order %s: %w", req.MarketID, err)
	}

	var resp kalshiOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kalshi: decode order response: %w", err)
	}

	if resp.Order.Status == "canceled" {
		return resp.Order.OrderID, fmt.Errorf("kalshi: order %s was immediately cancelled", resp.Order.OrderID)
	}

	return resp.Order.OrderID, nil
}

// CancelOrder cancels an existing order by its exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// Fills returns recent executions for the given market, newest first.
func (c *Client) Fills(ctx context.Context, marketID string, limit int) ([]domain.Fill, error) {
	params := url.Values{}
	if marketID != "" {
		params.Set("ticker", marketID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/portfolio/fills"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get fills %s: %w", marketID, err)
	}

	var resp struct {
		Fills []kalshiFill `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode fills: %w", err)
	}

	out := make([]domain.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		out = append(out, f.toDomain())
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.Gateway = (*Client)(nil)

func sideParam(side domain.ContractSide) string {
	if side == domain.SideNo {
		return "no"
	}
	return "yes"
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// Kalshi API. Rate-limit and server-error responses are retried per the
// Backoff policy; other failures surface immediately.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff.Wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		body, err := c.send(ctx, method, path, jsonBody)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", c.backoff.MaxAttempts, lastErr)
}

// retryable reports whether the error warrants another attempt.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, errTransient)
}

// pace enforces the minimum inter-request delay and, when configured, the
// shared distributed rate limit. The remaining interval is rechecked after
// every sleep: another caller may have claimed the slot while the lock was
// released, in which case this caller waits its own turn.
func (c *Client) pace(ctx context.Context) error {
	c.paceMu.Lock()
	for {
		wait := c.minInterval - c.now().Sub(c.lastRequest)
		if wait <= 0 {
			break
		}
		c.paceMu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		c.paceMu.Lock()
	}
	c.lastRequest = c.now()
	c.paceMu.Unlock()

	if c.limiter != nil && c.limitPerMin > 0 {
		allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.limitPerMin, time.Minute)
		if err != nil {
			// The limiter is advisory; a broken Redis must not stop trading.
			return nil
		}
		if !allowed {
			return fmt.Errorf("kalshi: outbound limiter: %w", domain.ErrRateLimited)
		}
	}
	return nil
}

// send performs one signed HTTP round trip.
func (c *Client) send(ctx context.Context, method, path string, jsonBody []byte) ([]byte, error) {
	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds authentication headers to the HTTP request. Kalshi uses
// RSA-PSS-SHA256 signatures over the timestamp + method + path string, with
// query parameters excluded from the signed path.
func (c *Client) signRequest(req *http.Request, method string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured: %w", domain.ErrUnauthorized)
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	message := ts + method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to the error taxonomy. Rate
// limits and 5xx are retryable; 404 means the market is gone (expired or
// settled); other 4xx fail fast.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr kalshiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	case statusCode >= 500:
		return fmt.Errorf("kalshi: %w: HTTP %d: %s (%s)", errTransient, statusCode, apiErr.Message, apiErr.Code)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
