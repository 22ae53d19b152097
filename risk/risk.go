// Package risk implements the liquidation and risk gate: the pre-trade
// liquidation-distance check, intrabar liquidation detection against 1m
// quotes, and the max-drawdown stop.
package risk

import (
	"math"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/sizing"
)

// Gate holds the run-level risk configuration shared by every check.
type Gate struct {
	MaintenanceMarginRate float64
	MaxDrawdownPct        *float64 // nil disables the max-drawdown stop
}

func NewGate(mmr float64, maxDrawdownPct *float64) Gate {
	return Gate{MaintenanceMarginRate: mmr, MaxDrawdownPct: maxDrawdownPct}
}

// PreTradeCheck rejects an order whose resulting liquidation distance is
// below minLiqDistancePct. It does not duplicate sizing.SizeOrderWithLiqCheck;
// callers that already used that entry point don't need this one too.
func (g Gate) PreTradeCheck(entryPrice, leverage, minLiqDistancePct float64, dir sizing.Direction) error {
	liq := sizing.LiqPrice(entryPrice, leverage, g.MaintenanceMarginRate, dir)
	dist := sizing.LiqDistancePct(entryPrice, liq)
	if dist < minLiqDistancePct {
		return errs.Rejected(errs.RejectLiquidationTooClose, "liquidation distance too close")
	}
	return nil
}

// LiquidationCheck scans the 1m quotes spanning one exec bar for a touch
// of the position's liquidation price and reports the first quote (in
// order) at which it happens, if any.
func LiquidationCheck(quotes []provider.Bar, liqPrice float64, dir sizing.Direction) (touched bool, at provider.Bar) {
	for _, q := range quotes {
		if dir == sizing.DirLong {
			if q.Low <= liqPrice {
				return true, q
			}
		} else {
			if q.High >= liqPrice {
				return true, q
			}
		}
	}
	return false, provider.Bar{}
}

// DrawdownTracker tracks peak equity and reports whether the configured
// max-drawdown threshold has been breached.
type DrawdownTracker struct {
	peak    float64
	started bool
}

func (t *DrawdownTracker) Observe(equity float64) {
	if !t.started || equity > t.peak {
		t.peak = equity
		t.started = true
	}
}

// DrawdownPct returns the current drawdown from peak equity as a percent
// (0 if no observation yet or equity is at/above peak).
func (t *DrawdownTracker) DrawdownPct(equity float64) float64 {
	if !t.started || t.peak <= 0 {
		return 0
	}
	dd := (t.peak - equity) / t.peak * 100.0
	return math.Max(dd, 0)
}

// Breached reports whether the current drawdown has hit or exceeded the
// gate's configured threshold; always false if no threshold is set.
func (g Gate) Breached(t *DrawdownTracker, equity float64) bool {
	if g.MaxDrawdownPct == nil {
		return false
	}
	return t.DrawdownPct(equity) >= *g.MaxDrawdownPct
}
