// Package sizing implements the position sizing model: notional
// computation from equity, stop distance, and leverage, with a cap stack
// that bounds the result by equity percentage, fee reserve, and leverage
// in that order.
//
// This is the single source of truth for position sizing across every
// engine mode; the cap ordering below drives the was_capped/Details
// explanation attached to each result.
package sizing

import (
	"fmt"
	"math"

	"github.com/chidi150c/perpbacktest/errs"
)

// Model is the sizing mode selector.
type Model string

const (
	ModelPercentEquity  Model = "percent_equity"
	ModelRiskBased      Model = "risk_based"
	ModelFixedNotional  Model = "fixed_notional"
)

// Direction mirrors the position side a sizing request is for.
type Direction int

const (
	DirLong Direction = iota
	DirShort
)

// Config holds the tunable sizing parameters for a run.
type Config struct {
	SizingModel            Model
	RiskPerTradePct        float64
	MaxLeverage            float64
	MaxPositionEquityPct   float64 // default 95
	ReserveFeeBuffer       bool
	TakerFeeRate           float64 // fraction, e.g. 0.00055
	MinLiqDistancePct      float64 // default 10
	MaintenanceMarginRate  float64 // default 0.005
}

// DefaultConfig returns sane defaults for a percent-equity sizing run.
func DefaultConfig() Config {
	return Config{
		SizingModel:           ModelPercentEquity,
		RiskPerTradePct:       1.0,
		MaxLeverage:           2.0,
		MaxPositionEquityPct:  95.0,
		ReserveFeeBuffer:      true,
		TakerFeeRate:          0.00055,
		MinLiqDistancePct:     10.0,
		MaintenanceMarginRate: 0.005,
	}
}

// Validate checks Config's invariants.
func (c Config) Validate() error {
	if c.MaxPositionEquityPct <= 0 || c.MaxPositionEquityPct > 100 {
		return errs.Newf(errs.KindInvalidRisk, "max_position_equity_pct must be in (0, 100], got %v", c.MaxPositionEquityPct)
	}
	if c.MinLiqDistancePct < 0 {
		return errs.Newf(errs.KindInvalidRisk, "min_liq_distance_pct must be >= 0, got %v", c.MinLiqDistancePct)
	}
	if c.MaxLeverage <= 0 {
		return errs.Newf(errs.KindInvalidRisk, "max_leverage must be > 0, got %v", c.MaxLeverage)
	}
	return nil
}

// absoluteCeiling guards against float overflow from compounding equity.
const absoluteCeiling = 1e15

// Result is the outcome of a sizing computation.
type Result struct {
	SizeUSDT   float64
	Method     Model
	Details    string
	WasCapped  bool
	Rejected   bool
	Reason     errs.RejectReason
}

// Sizer exposes the sizing parameters and computation needed across a
// run. It is stateless: it never tracks equity itself, since the engine
// is the sole owner of mutable run state and always passes the current
// equity in explicitly.
type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer { return &Sizer{cfg: cfg} }

func (m *Sizer) Config() Config { return m.cfg }

// SizeOrder computes position notional. equity is total account equity;
// usedMargin is margin already committed to open positions on this symbol
// (0 if flat).
func (m *Sizer) SizeOrder(equity, entryPrice float64, stopLoss *float64, requestedSize *float64, usedMargin float64) Result {
	switch m.cfg.SizingModel {
	case ModelRiskBased:
		return m.sizeRiskBased(equity, entryPrice, stopLoss, usedMargin)
	case ModelFixedNotional:
		return m.sizeFixedNotional(equity, requestedSize)
	default:
		return m.sizePercentEquity(equity, usedMargin)
	}
}

func (m *Sizer) capStack(equity, freeMargin float64) (maxByEquity, maxByFees, maxByLeverage, maxSize float64) {
	maxLev := m.cfg.MaxLeverage
	maxByEquity = equity * (m.cfg.MaxPositionEquityPct / 100.0)
	if m.cfg.ReserveFeeBuffer {
		feeFactor := 1.0 + 2.0*m.cfg.TakerFeeRate
		maxByFees = freeMargin * maxLev / feeFactor
	} else {
		maxByFees = math.Inf(1)
	}
	maxByLeverage = freeMargin * maxLev
	maxSize = math.Min(maxByEquity, math.Min(maxByFees, maxByLeverage))
	return
}

func capReason(maxSize, maxByEquity, maxByFees, pct float64) string {
	switch maxSize {
	case maxByEquity:
		return fmt.Sprintf(", capped by %.0f%% equity", pct)
	case maxByFees:
		return ", capped by fee reserve"
	default:
		return ", capped by leverage"
	}
}

func (m *Sizer) sizePercentEquity(equity, usedMargin float64) Result {
	freeMargin := equity - usedMargin
	maxByEquity, maxByFees, _, maxSize := m.capStack(equity, freeMargin)

	margin := freeMargin * (m.cfg.RiskPerTradePct / 100.0)
	size := margin * m.cfg.MaxLeverage

	wasCapped := size > maxSize
	reason := ""
	if wasCapped {
		reason = capReason(maxSize, maxByEquity, maxByFees, m.cfg.MaxPositionEquityPct)
		size = maxSize
	}
	size = applyAbsoluteCeiling(&wasCapped, size)

	return Result{
		SizeUSDT:  size,
		Method:    ModelPercentEquity,
		Details:   fmt.Sprintf("free_margin=%.2f, margin=%.2f, lev=%.1fx, position=%.2f%s", freeMargin, margin, m.cfg.MaxLeverage, size, reason),
		WasCapped: wasCapped,
	}
}

func (m *Sizer) sizeRiskBased(equity, entryPrice float64, stopLoss *float64, usedMargin float64) Result {
	freeMargin := equity - usedMargin
	maxByEquity, maxByFees, _, maxSize := m.capStack(equity, freeMargin)
	riskDollars := equity * (m.cfg.RiskPerTradePct / 100.0)

	if stopLoss != nil && entryPrice > 0 {
		stopDistance := math.Abs(entryPrice - *stopLoss)
		if stopDistance > 0 {
			size := riskDollars * entryPrice / stopDistance
			wasCapped := size > maxSize
			reason := ""
			if wasCapped {
				reason = capReason(maxSize, maxByEquity, maxByFees, m.cfg.MaxPositionEquityPct)
				size = maxSize
			}
			size = applyAbsoluteCeiling(&wasCapped, size)
			return Result{
				SizeUSDT:  size,
				Method:    ModelRiskBased,
				Details:   fmt.Sprintf("risk=%.2f, stop_dist=%.4f%s", riskDollars, stopDistance, reason),
				WasCapped: wasCapped,
			}
		}
	}

	// Fallback to percent_equity formula if no valid stop.
	margin := freeMargin * (m.cfg.RiskPerTradePct / 100.0)
	size := margin * m.cfg.MaxLeverage
	wasCapped := size > maxSize
	if wasCapped {
		size = maxSize
	}
	size = applyAbsoluteCeiling(&wasCapped, size)
	return Result{
		SizeUSDT:  size,
		Method:    "risk_based_fallback",
		Details:   fmt.Sprintf("no stop_loss, using percent_equity fallback (margin=%.2f, lev=%.1fx)", margin, m.cfg.MaxLeverage),
		WasCapped: wasCapped,
	}
}

func (m *Sizer) sizeFixedNotional(equity float64, requestedSize *float64) Result {
	maxByEquity := equity * (m.cfg.MaxPositionEquityPct / 100.0)
	maxByLeverage := equity * m.cfg.MaxLeverage
	maxSize := math.Min(maxByEquity, maxByLeverage)

	var size float64
	var requested float64
	if requestedSize != nil {
		requested = *requestedSize
		size = requested
	} else {
		size = maxSize
	}
	wasCapped := size > maxSize
	reason := ""
	if wasCapped {
		if maxSize == maxByEquity {
			reason = fmt.Sprintf(" (capped by %.0f%% equity)", m.cfg.MaxPositionEquityPct)
		} else {
			reason = " (capped by leverage)"
		}
		size = maxSize
	}
	size = applyAbsoluteCeiling(&wasCapped, size)
	return Result{
		SizeUSDT:  size,
		Method:    ModelFixedNotional,
		Details:   fmt.Sprintf("requested=%.2f%s", requested, reason),
		WasCapped: wasCapped,
	}
}

func applyAbsoluteCeiling(wasCapped *bool, size float64) float64 {
	if size > absoluteCeiling {
		*wasCapped = true
		return absoluteCeiling
	}
	return size
}

// LiqPrice computes the isolated-margin liquidation price:
// liq = entry * (1 - 1/lev + mmr) for long, symmetric for short.
func LiqPrice(entry, leverage, mmr float64, dir Direction) float64 {
	if dir == DirLong {
		return entry * (1 - 1/leverage + mmr)
	}
	return entry * (1 + 1/leverage - mmr)
}

// LiqDistancePct returns the liquidation distance as a percent of entry
// price (the GLOSSARY's "Liquidation distance").
func LiqDistancePct(entry, liq float64) float64 {
	return math.Abs(entry-liq) / entry * 100.0
}

// SizeOrderWithLiqCheck wraps SizeOrder with the pre-trade liquidation
// distance gate: rejects the order outright if the resulting liquidation
// price sits closer than MinLiqDistancePct.
func (m *Sizer) SizeOrderWithLiqCheck(equity, entryPrice float64, stopLoss *float64, requestedSize *float64, usedMargin float64, dir Direction) Result {
	res := m.SizeOrder(equity, entryPrice, stopLoss, requestedSize, usedMargin)
	liq := LiqPrice(entryPrice, m.cfg.MaxLeverage, m.cfg.MaintenanceMarginRate, dir)
	dist := LiqDistancePct(entryPrice, liq)
	if dist < m.cfg.MinLiqDistancePct {
		res.Rejected = true
		res.Reason = errs.RejectLiquidationTooClose
		res.Details = fmt.Sprintf("%s; liq_distance=%.2f%% < min=%.2f%%", res.Details, dist, m.cfg.MinLiqDistancePct)
	}
	return res
}
