package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// Embed colors per event severity.
const (
	colorGreen = 0x2ECC71
	colorAmber = 0xE67E22
	colorRed   = 0xE74C3C
	colorGrey  = 0x95A5A6
)

// DiscordSender delivers alerts via a Discord webhook as rich embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the Discord webhook as an embed, color-coded by
// event severity, with the position context rendered in the description.
func (d *DiscordSender) Send(ctx context.Context, n domain.Notification) error {
	description := n.Message
	if lines := contextLines(n); len(lines) > 0 {
		description += "\n" + strings.Join(lines, "\n")
	}

	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       n.Title,
			"description": description,
			"color":       colorFor(n.Event),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func colorFor(event domain.EventType) int {
	switch event {
	case domain.EventPositionClosed:
		return colorGreen
	case domain.EventPartialFill:
		return colorAmber
	case domain.EventLiquidationFailed:
		return colorRed
	default:
		return colorGrey
	}
}
