package exits

import "time"

// Default hold-time bounds for computed exit levels.
const (
	minHold = 6 * time.Hour
	maxHold = 72 * time.Hour
)

// Levels is a computed set of exit thresholds for a new position.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
	MaxHold    time.Duration
}

// ComputeLevels derives stop-loss, take-profit, and maximum hold time from
// entry price, decision confidence, recent volatility, and time to market
// expiry.
//
// Higher-confidence entries get tighter stops and wider profit targets.
// Volatility widens the stop so routine noise does not shake the position
// out. The hold window is half the time to expiry, clamped to sane bounds.
func ComputeLevels(entryPrice, confidence, volatility float64, timeToExpiry time.Duration) Levels {
	var stopPct, takePct float64
	switch {
	case confidence >= 0.8:
		stopPct, takePct = 0.05, 0.30
	case confidence >= 0.6:
		stopPct, takePct = 0.07, 0.20
	default:
		stopPct, takePct = 0.10, 0.15
	}

	// Volatility adjustment, capped so the stop never exceeds 2x its band.
	if volatility > 0 {
		factor := 1.0 + volatility
		if factor > 2.0 {
			factor = 2.0
		}
		stopPct *= factor
	}

	stop := entryPrice * (1.0 - stopPct)
	if stop < 0.01 {
		stop = 0.01
	}
	take := entryPrice * (1.0 + takePct)
	if take > 0.99 {
		take = 0.99
	}

	hold := timeToExpiry / 2
	if hold < minHold {
		hold = minHold
	}
	if hold > maxHold {
		hold = maxHold
	}

	return Levels{StopLoss: stop, TakeProfit: take, MaxHold: hold}
}
