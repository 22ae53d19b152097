// Package play defines the immutable configuration struct the engine
// consumes for one run. It is the only configuration surface the core
// exposes — there is no environment-variable or YAML loading here; a
// Play is built once by the caller and never mutated afterward.
package play

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/chidi150c/perpbacktest/tf"
	"github.com/chidi150c/perpbacktest/warmup"
)

// FeeModel is the taker/maker fee schedule, in basis points.
type FeeModel struct {
	TakerBps float64
	MakerBps float64
}

// PositionPolicy bounds how many concurrent positions a symbol may hold.
type PositionPolicy struct {
	MaxPositionsPerSymbol int
}

// RiskPolicy carries the risk-facing knobs layered on top of sizing.Config.
type RiskPolicy struct {
	SizingModel          sizing.Model
	RiskPerTradePct      float64
	StopLossPct          *float64
	TakeProfitPct        *float64
	MaxDrawdownPct       *float64
	MinLiqDistancePct    float64
	MaxPositionEquityPct float64
}

// Play is the immutable, fully-resolved configuration for one run.
type Play struct {
	ID     string
	Symbol string

	RoleTF warmup.RoleTFMap

	StrategyID      string
	StrategyVersion string
	StrategyParams  map[string]float64

	StartingEquityUSDT float64
	Fees               FeeModel
	SlippageBps        float64
	MaxLeverage        float64
	FundingEnabled     bool

	Risk     RiskPolicy
	Position PositionPolicy
}

// Validate checks the cross-field invariants a Play must satisfy before
// a run can start; role-tf and sizing-level invariants are delegated to
// the packages that own them.
func (p Play) Validate() error {
	if p.Symbol == "" {
		return errs.New(errs.KindInvalidPolicy, "symbol must be set")
	}
	if _, ok := p.RoleTF[warmup.RoleExec]; !ok {
		return errs.New(errs.KindInvalidPolicy, "exec role timeframe must be set")
	}
	for role, t := range p.RoleTF {
		if !t.Valid() {
			return errs.Newf(errs.KindUnknownTimeframe, "role %q has unknown timeframe %q", role, t)
		}
	}
	if p.StartingEquityUSDT <= 0 {
		return errs.New(errs.KindInvalidPolicy, "starting_equity_usdt must be > 0")
	}
	if p.MaxLeverage <= 0 {
		return errs.New(errs.KindInvalidRisk, "max_leverage must be > 0")
	}
	if p.Position.MaxPositionsPerSymbol <= 0 {
		return errs.New(errs.KindInvalidPolicy, "max_positions_per_symbol must be > 0")
	}
	sizingCfg := p.SizingConfig()
	if err := sizingCfg.Validate(); err != nil {
		return err
	}
	return nil
}

// SizingConfig derives a sizing.Config from this Play's risk policy.
func (p Play) SizingConfig() sizing.Config {
	return sizing.Config{
		SizingModel:           p.Risk.SizingModel,
		RiskPerTradePct:       p.Risk.RiskPerTradePct,
		MaxLeverage:           p.MaxLeverage,
		MaxPositionEquityPct:  p.Risk.MaxPositionEquityPct,
		ReserveFeeBuffer:      true,
		TakerFeeRate:          p.Fees.TakerBps / 10000.0,
		MinLiqDistancePct:     p.Risk.MinLiqDistancePct,
		MaintenanceMarginRate: 0.005,
	}
}

// ExecTF returns the exec role's configured timeframe.
func (p Play) ExecTF() tf.Timeframe { return p.RoleTF[warmup.RoleExec] }

// ConfigHash returns a stable hash of the Play's fields, suitable for the
// run manifest's config_hash so two runs with identical configuration
// can be recognized as such without comparing every field by hand.
func (p Play) ConfigHash() (string, error) {
	b, err := json.Marshal(canonicalPlay(p))
	if err != nil {
		return "", errs.WithCause(errs.KindInvalidPolicy, "failed to marshal play for hashing", err)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// canonicalPlay projects p into plain string-keyed maps; json.Marshal
// writes map keys in sorted order, so the byte sequence is stable
// regardless of map iteration order.
func canonicalPlay(p Play) map[string]any {
	roleTF := map[string]string{}
	for role, t := range p.RoleTF {
		roleTF[string(role)] = string(t)
	}
	return map[string]any{
		"symbol":                 p.Symbol,
		"role_tf":                roleTF,
		"strategy_id":            p.StrategyID,
		"strategy_version":       p.StrategyVersion,
		"strategy_params":        p.StrategyParams,
		"starting_equity_usdt":   p.StartingEquityUSDT,
		"taker_bps":              p.Fees.TakerBps,
		"maker_bps":              p.Fees.MakerBps,
		"slippage_bps":           p.SlippageBps,
		"max_leverage":           p.MaxLeverage,
		"funding_enabled":        p.FundingEnabled,
		"sizing_model":           p.Risk.SizingModel,
		"risk_per_trade_pct":     p.Risk.RiskPerTradePct,
		"stop_loss_pct":          p.Risk.StopLossPct,
		"take_profit_pct":        p.Risk.TakeProfitPct,
		"max_drawdown_pct":       p.Risk.MaxDrawdownPct,
		"min_liq_distance_pct":   p.Risk.MinLiqDistancePct,
		"max_position_equity_pct": p.Risk.MaxPositionEquityPct,
		"max_positions_per_symbol": p.Position.MaxPositionsPerSymbol,
	}
}
