// Package fill implements the order/fill simulator: entry fills with
// slippage, SL/TP levels computed from the signal bar's close, the
// intrabar TP/SL/liquidation pass at 1-minute granularity, fee charging,
// funding accrual, and mark-to-market equity.
package fill

import (
	"math"
	"time"

	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/risk"
	"github.com/chidi150c/perpbacktest/sizing"
)

// ExitReason is a closed set of why a trade ended; comparisons are on
// the typed value, not on its string form.
type ExitReason string

const (
	ExitTakeProfit     ExitReason = "tp"
	ExitStopLoss       ExitReason = "sl"
	ExitSignal         ExitReason = "signal"
	ExitEndOfData      ExitReason = "end_of_data"
	ExitLiquidated     ExitReason = "liquidated"
	ExitMaxDrawdownHit ExitReason = "max_drawdown_hit"
)

// Trade is the full lifecycle record of one position: created at entry
// fill, mutated only by its own exit fill, then immutable.
type Trade struct {
	ID                string
	Symbol            string
	Direction         sizing.Direction
	EntryTs           time.Time
	EntryBarIdx       int
	EntryPrice        float64
	EntrySizeUSDT     float64
	EntrySizeBase     float64
	ExitTs            time.Time
	ExitBarIdx        int
	ExitPrice         float64
	ExitReason        ExitReason
	RealizedPnL       float64
	FundingPnL        float64
	FeesPaid          float64
	NetPnL            float64
	StopLoss          float64
	TakeProfit        float64
	closed            bool
}

func (t *Trade) Closed() bool { return t.closed }

// FeeModel is the taker fee rate applied to entry and exit notional.
type FeeModel struct {
	TakerRate float64 // fraction, e.g. 0.00055
}

// SlipBuy/SlipSell apply directional slippage: a buy fills worse (higher),
// a sell fills worse (lower).
func slipBuy(ref, slipFrac float64) float64  { return ref * (1 + slipFrac) }
func slipSell(ref, slipFrac float64) float64 { return ref * (1 - slipFrac) }

// EntryFill computes the entry fill price from a reference price (the
// next 1m bar's open, or the exec bar's close if 1m data is unavailable)
// given the position direction and slippage in basis points.
func EntryFill(ref float64, dir sizing.Direction, slippageBps float64) float64 {
	slip := slippageBps / 10000.0
	if dir == sizing.DirLong {
		return slipBuy(ref, slip)
	}
	return slipSell(ref, slip)
}

// ExitFill computes the exit fill price for a level crossed intrabar
// (SL/TP), where the buy side of the exit (i.e. a short covering) pays
// worse, mirroring EntryFill's convention but for the closing leg.
func ExitFill(level float64, closingDir sizing.Direction, slippageBps float64) float64 {
	slip := slippageBps / 10000.0
	if closingDir == sizing.DirLong {
		return slipBuy(level, slip)
	}
	return slipSell(level, slip)
}

// SLTP computes stop-loss/take-profit levels from the signal bar's
// close (not the fill price), per direction. slPct/tpPct are percents;
// leverage divides them since the configured pct is a percent of margin,
// not of price.
func SLTP(signalClose float64, slPct, tpPct, leverage float64, dir sizing.Direction) (sl, tp float64) {
	slFrac := slPct / (100.0 * leverage)
	tpFrac := tpPct / (100.0 * leverage)
	if dir == sizing.DirLong {
		return signalClose * (1 - slFrac), signalClose * (1 + tpFrac)
	}
	return signalClose * (1 + slFrac), signalClose * (1 - tpFrac)
}

// OpenEntry opens a new Trade at the given fill, charging entry fees.
func OpenEntry(id, symbol string, dir sizing.Direction, entryTs time.Time, entryBarIdx int, fillPrice, sizeUSDT float64, fees FeeModel, sl, tp float64) *Trade {
	sizeBase := sizeUSDT / fillPrice
	entryFee := sizeUSDT * fees.TakerRate
	return &Trade{
		ID:            id,
		Symbol:        symbol,
		Direction:     dir,
		EntryTs:       entryTs,
		EntryBarIdx:   entryBarIdx,
		EntryPrice:    fillPrice,
		EntrySizeUSDT: sizeUSDT,
		EntrySizeBase: sizeBase,
		FeesPaid:      entryFee,
		StopLoss:      sl,
		TakeProfit:    tp,
	}
}

// UnrealizedPnL computes mark-to-market PnL for an open trade at markPrice.
func UnrealizedPnL(t *Trade, markPrice float64) float64 {
	side := 1.0
	if t.Direction == sizing.DirShort {
		side = -1.0
	}
	return side * t.EntrySizeBase * (markPrice - t.EntryPrice)
}

// ApplyFunding accrues one funding payment onto an open trade: positive
// rate charges longs and pays shorts.
func ApplyFunding(t *Trade, rate float64) {
	side := 1.0
	if t.Direction == sizing.DirShort {
		side = -1.0
	}
	t.FundingPnL += -side * t.EntrySizeUSDT * rate
}

// Close finalizes t with an exit fill, fees, and the realized/net PnL
// formulas. Calling Close twice is a programmer error; callers must not
// reuse a closed Trade.
func Close(t *Trade, exitTs time.Time, exitBarIdx int, exitPrice float64, reason ExitReason, fees FeeModel) {
	side := 1.0
	if t.Direction == sizing.DirShort {
		side = -1.0
	}
	exitNotional := t.EntrySizeBase * exitPrice
	exitFee := exitNotional * fees.TakerRate

	t.ExitTs = exitTs
	t.ExitBarIdx = exitBarIdx
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	t.RealizedPnL = side * t.EntrySizeBase * (exitPrice - t.EntryPrice)
	t.FeesPaid += exitFee
	t.NetPnL = t.RealizedPnL - t.FeesPaid + t.FundingPnL
	t.closed = true
}

// IntrabarOutcome is what the intrabar pass decided happened to an open
// position on one 1m quote, if anything.
type IntrabarOutcome struct {
	Triggered  bool
	Reason     ExitReason
	ExitPrice  float64
	AtQuote    provider.Bar
}

// IntrabarPass scans quotes (the 1m bars spanning one exec bar) for the
// first trigger in precedence order liquidation > stop_loss >
// take_profit, applied quote-by-quote so an earlier quote's trigger is
// never shadowed by a later one. Signal-driven exits are handled by the
// caller, not here, since they only ever happen at an exec-bar close.
func IntrabarPass(quotes []provider.Bar, dir sizing.Direction, liqPrice, sl, tp, slippageBps float64) IntrabarOutcome {
	closingDir := sizing.DirShort
	if dir == sizing.DirShort {
		closingDir = sizing.DirLong
	}
	for _, q := range quotes {
		single := []provider.Bar{q}
		if touched, at := risk.LiquidationCheck(single, liqPrice, dir); touched {
			return IntrabarOutcome{Triggered: true, Reason: ExitLiquidated, ExitPrice: liqPrice, AtQuote: at}
		}
		slHit := levelTouched(q, dir, sl, true)
		tpHit := levelTouched(q, dir, tp, false)
		if slHit {
			return IntrabarOutcome{Triggered: true, Reason: ExitStopLoss, ExitPrice: ExitFill(sl, closingDir, slippageBps), AtQuote: q}
		}
		if tpHit {
			return IntrabarOutcome{Triggered: true, Reason: ExitTakeProfit, ExitPrice: ExitFill(tp, closingDir, slippageBps), AtQuote: q}
		}
	}
	return IntrabarOutcome{}
}

// levelTouched reports whether q's range crosses level, given whether
// level is the stop (adverse) or the target (favorable) for dir.
func levelTouched(q provider.Bar, dir sizing.Direction, level float64, isStop bool) bool {
	adverseIsDown := (dir == sizing.DirLong) == isStop
	if adverseIsDown {
		return q.Low <= level
	}
	return q.High >= level
}

// Equity computes total account equity from its components.
func Equity(startingEquity, realizedPnL, feesPaid, unrealizedPnL, fundingPnL float64) float64 {
	return startingEquity + realizedPnL - feesPaid + unrealizedPnL + fundingPnL
}

// RoundToStep rounds a base-currency quantity down to the nearest step,
// matching the exchange's minimum-quantity filter.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}
