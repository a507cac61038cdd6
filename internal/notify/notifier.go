// Package notify delivers operator alerts for position lifecycle events.
// Alerts fan out to every configured channel (Telegram, Discord) and can be
// filtered by event type so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// Sender is the interface each delivery channel must implement. Senders
// receive the full notification and render the structured context in their
// own channel format.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards alerts whose event is in
// the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events listed in the events slice will be forwarded by Notify. If events is
// empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders only if its event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	// If specific events were configured, filter.
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(note.Event)),
		)
		return nil
	}

	return n.dispatch(ctx, note)
}

// NotifyAll sends an alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, note domain.Notification) error {
	return n.dispatch(ctx, note)
}

// dispatch iterates over all senders and sends the alert. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, note domain.Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(note.Event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", string(note.Event)),
				slog.String("title", note.Title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.Notifier = (*Notifier)(nil)

// contextLines renders the notification's structured position fields as
// label/value pairs; zero values are skipped.
func contextLines(n domain.Notification) []string {
	var lines []string
	if n.MarketID != "" {
		lines = append(lines, "market: "+n.MarketID)
	}
	if n.Side != "" {
		lines = append(lines, "side: "+string(n.Side))
	}
	if n.Price > 0 {
		lines = append(lines, fmt.Sprintf("price: $%.2f", n.Price))
	}
	if n.Quantity > 0 {
		lines = append(lines, fmt.Sprintf("quantity: %d", n.Quantity))
	}
	if n.PnL != nil {
		lines = append(lines, fmt.Sprintf("pnl: $%+.2f", *n.PnL))
	}
	return lines
}
