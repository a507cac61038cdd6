// Package exits decides when an open position must be closed. The evaluator
// is a pure function over a position and a fresh quote so every rule is
// testable without network or storage.
package exits

import (
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// Exit reasons, in evaluation priority order.
const (
	ReasonMarketResolution = "market_resolution"
	ReasonStopLoss         = "stop_loss"
	ReasonTakeProfit       = "take_profit"
	ReasonTimeBased        = "time_based"
	ReasonEmergencyStop    = "emergency_stop"
)

// Settlement proxy bounds: a binary contract trading at or beyond these is
// treated as resolved even before the exchange reports it settled.
const (
	resolvedLowBound  = 0.01
	resolvedHighBound = 0.99
)

// Result is the evaluator's verdict for one position.
type Result struct {
	Exit      bool
	Reason    string
	ExitPrice float64
}

// Evaluator applies the fixed-priority exit rules.
type Evaluator struct {
	// EmergencyStopPct synthesizes a stop-loss for positions that never had
	// one, at this fraction below the entry price.
	EmergencyStopPct float64
}

// NewEvaluator creates an Evaluator with the given emergency stop fraction.
func NewEvaluator(emergencyStopPct float64) *Evaluator {
	return &Evaluator{EmergencyStopPct: emergencyStopPct}
}

// Evaluate runs the exit rules in priority order; the first match wins.
//
//  1. Market resolved: exit at 1.0 if the result matches the held side,
//     else 0.0.
//  2. Resolution-by-price: price at an extreme bound means the market has in
//     fact settled even if its status lags, so stop/take-profit rules must
//     not fire on it.
//  3. Stop-loss: current price at or below the configured stop.
//  4. Take-profit: current price at or above the target, but only when the
//     P&L at that price is actually positive.
//  5. Time-based: held longer than the configured maximum.
//  6. Emergency stop: positions with no stop configured get one synthesized
//     below entry.
//
// No match means hold.
func (e *Evaluator) Evaluate(pos domain.Position, quote domain.MarketQuote, now time.Time) Result {
	price := quote.PriceFor(pos.Side)

	// 1. Market resolved per exchange status.
	if quote.Resolved() && quote.Result != "" {
		exitPrice := 0.0
		if quote.Result == pos.Side {
			exitPrice = 1.0
		}
		return Result{Exit: true, Reason: ReasonMarketResolution, ExitPrice: exitPrice}
	}

	// 2. Resolution-by-price.
	if price <= resolvedLowBound {
		return Result{Exit: true, Reason: ReasonMarketResolution, ExitPrice: 0.0}
	}
	if price >= resolvedHighBound {
		return Result{Exit: true, Reason: ReasonMarketResolution, ExitPrice: 1.0}
	}

	// 3. Stop-loss. Both sides of a binary contract lose value the same way
	// when their own price falls, so the comparison has one polarity.
	if pos.StopLossPrice != nil && price <= *pos.StopLossPrice {
		return Result{Exit: true, Reason: ReasonStopLoss, ExitPrice: price}
	}

	// 4. Take-profit, guarded against stale targets set before a crash.
	if pos.TakeProfitPrice != nil && price >= *pos.TakeProfitPrice && pos.PnLAt(price) > 0 {
		return Result{Exit: true, Reason: ReasonTakeProfit, ExitPrice: price}
	}

	// 5. Time-based.
	if pos.MaxHold != nil && pos.HoldingFor(now) >= *pos.MaxHold {
		return Result{Exit: true, Reason: ReasonTimeBased, ExitPrice: price}
	}

	// 6. Emergency stop for positions that never got a stop-loss.
	if pos.StopLossPrice == nil && e.EmergencyStopPct > 0 {
		synthetic := pos.EntryPrice * (1.0 - e.EmergencyStopPct)
		if price <= synthetic {
			return Result{Exit: true, Reason: ReasonEmergencyStop, ExitPrice: price}
		}
	}

	return Result{}
}
