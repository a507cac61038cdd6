package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/executor"
	"github.com/hebd1/kalshi-ai-trading-bot/internal/exits"
)

// DecisionClient maps a market snapshot to a trading recommendation.
type DecisionClient interface {
	Decide(ctx context.Context, quote domain.MarketQuote) (domain.Decision, error)
}

// TraderConfig holds entry sizing and gating parameters.
type TraderConfig struct {
	Markets       []string
	MaxPositions  int
	PositionSize  int64
	MinConfidence float64
	Interval      time.Duration
}

// Trader polls the watchlist, asks the decision service about each market,
// and opens or closes positions accordingly.
type Trader struct {
	positions domain.PositionStore
	gateway   domain.Gateway
	decisions DecisionClient
	exec      *executor.Executor
	cfg       TraderConfig
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewTrader creates a Trader.
func NewTrader(positions domain.PositionStore, gateway domain.Gateway, decisions DecisionClient, exec *executor.Executor, cfg TraderConfig, logger *slog.Logger) *Trader {
	return &Trader{
		positions: positions,
		gateway:   gateway,
		decisions: decisions,
		exec:      exec,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "trader")),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Run drives Tick at the configured interval until the context is cancelled.
func (t *Trader) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logger.Info("trader started",
		slog.Duration("interval", t.cfg.Interval),
		slog.Int("markets", len(t.cfg.Markets)))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trader stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.logger.Error("trading pass failed", slog.Any("error", err))
			}
		}
	}
}

// Tick runs one trading pass over the watchlist. Errors on individual markets
// are logged and do not stop the pass.
func (t *Trader) Tick(ctx context.Context) error {
	for _, marketID := range t.cfg.Markets {
		if err := t.tradeOne(ctx, marketID); err != nil {
			t.logger.Error("trade market",
				slog.String("market_id", marketID), slog.Any("error", err))
		}
	}
	return nil
}

func (t *Trader) tradeOne(ctx context.Context, marketID string) error {
	quote, err := t.gateway.Market(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.logger.Debug("market expired or settled", slog.String("market_id", marketID))
			return nil
		}
		return err
	}
	if quote.Resolved() {
		return nil
	}

	d, err := t.decisions.Decide(ctx, quote)
	if err != nil {
		return err
	}

	switch d.Action {
	case domain.DecisionBuy:
		return t.open(ctx, quote, d)
	case domain.DecisionSell:
		return t.close(ctx, quote, d)
	default:
		return nil
	}
}

func (t *Trader) open(ctx context.Context, quote domain.MarketQuote, d domain.Decision) error {
	if d.Confidence < t.cfg.MinConfidence {
		t.logger.Debug("confidence below threshold",
			slog.String("market_id", d.MarketID),
			slog.Float64("confidence", d.Confidence))
		return nil
	}

	count, err := t.positions.CountOpen(ctx)
	if err != nil {
		return err
	}
	if count >= int64(t.cfg.MaxPositions) {
		t.logger.Debug("position limit reached", slog.Int64("open", count))
		return nil
	}

	entry := quote.AskFor(d.Side)
	if d.LimitPrice != nil {
		entry = *d.LimitPrice
	}
	if entry <= 0 || entry >= 1 {
		t.logger.Warn("no usable entry price",
			slog.String("market_id", d.MarketID), slog.Float64("entry", entry))
		return nil
	}

	now := t.now()
	levels := exits.ComputeLevels(entry, d.Confidence, 0, quote.ExpiresAt.Sub(now))
	pos := domain.Position{
		ID:              t.newID(),
		MarketID:        d.MarketID,
		Side:            d.Side,
		EntryPrice:      entry,
		Quantity:        t.cfg.PositionSize,
		Live:            false,
		Tracked:         true,
		Status:          domain.PositionStatusOpen,
		Strategy:        domain.StrategyAIDecision,
		StopLossPrice:   &levels.StopLoss,
		TakeProfitPrice: &levels.TakeProfit,
		MaxHold:         &levels.MaxHold,
		OpenedAt:        now,
	}

	added, err := t.positions.Add(ctx, pos)
	if err != nil {
		return err
	}
	if !added {
		// Slot occupied. An open row means we already hold this; a closed row
		// is revived for the new entry.
		if _, err := t.positions.GetOpenByMarketSide(ctx, pos.MarketID, pos.Side); err == nil {
			t.logger.Debug("already holding", slog.String("market_id", pos.MarketID))
			return nil
		}
		if err := t.positions.Reopen(ctx, pos); err != nil {
			return err
		}
	}

	t.logger.Info("entering position",
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry", entry),
		slog.Float64("confidence", d.Confidence),
		slog.String("reasoning", d.Reasoning))

	return t.exec.ExecuteOpen(ctx, pos)
}

func (t *Trader) close(ctx context.Context, quote domain.MarketQuote, d domain.Decision) error {
	pos, err := t.positions.GetOpenByMarketSide(ctx, d.MarketID, d.Side)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if !pos.Live {
		return nil
	}

	exitPrice := quote.PriceFor(pos.Side)
	if err := t.exec.ExecuteClose(ctx, pos, exitPrice, "decision_sell"); err != nil {
		if executor.IsActiveOrderErr(err) {
			return nil
		}
		return err
	}
	return nil
}
