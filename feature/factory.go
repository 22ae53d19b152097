// Key-to-evaluator factory: turns the strict allow-listed feature keys a
// strategy declares into concrete Evaluator instances, so the engine
// never needs a hardcoded switch over every indicator a strategy might
// ask for.
package feature

import (
	"strings"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/warmup"
)

const (
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
	bollingerNumStd  = 2.0
	superTrendMult   = 3.0
)

// BuildEvaluator constructs the Evaluator for key given its declared
// lookback. Key naming follows a small set of recognized prefixes/exact
// names; anything else is *errs.Error{Kind: UnknownFeature}.
func BuildEvaluator(key Key, lookback int) (Evaluator, error) {
	name := string(key)
	switch {
	case strings.HasPrefix(name, "ema_"):
		return NewEMA(key, lookback), nil
	case strings.HasPrefix(name, "sma_"):
		return NewSMA(key, lookback), nil
	case strings.HasPrefix(name, "rsi_"):
		return NewRSI(key, lookback), nil
	case strings.HasPrefix(name, "atr_"):
		return NewATR(key, lookback), nil
	case strings.HasPrefix(name, "bb_upper_"):
		return NewBollinger(key, lookback, bollingerNumStd, BollingerUpper), nil
	case strings.HasPrefix(name, "bb_mid_"):
		return NewBollinger(key, lookback, bollingerNumStd, BollingerMid), nil
	case strings.HasPrefix(name, "bb_lower_"):
		return NewBollinger(key, lookback, bollingerNumStd, BollingerLower), nil
	case strings.HasPrefix(name, "donchian_upper_"):
		return NewDonchian(key, lookback, DonchianUpper), nil
	case strings.HasPrefix(name, "donchian_lower_"):
		return NewDonchian(key, lookback, DonchianLower), nil
	case name == "macd_value":
		return NewMACD(key, macdFastPeriod, macdSlowPeriod, macdSignalPeriod, MACDValue), nil
	case name == "macd_signal":
		return NewMACD(key, macdFastPeriod, macdSlowPeriod, macdSignalPeriod, MACDSignal), nil
	case name == "macd_hist":
		return NewMACD(key, macdFastPeriod, macdSlowPeriod, macdSignalPeriod, MACDHist), nil
	case name == "obv":
		return NewOBV(key), nil
	case name == "vwap":
		return NewVWAP(key), nil
	case strings.HasPrefix(name, "adx_"):
		return NewADX(key, lookback), nil
	case strings.HasPrefix(name, "supertrend_"):
		return NewSuperTrend(key, lookback, superTrendMult), nil
	default:
		return nil, errs.Newf(errs.KindUnknownFeature, "unknown feature key %q", key)
	}
}

// IsStructureKey reports whether key names the swing/zone structure pair
// rather than a plain incremental indicator; structure keys are wired
// through AddSwingDetector/AddZoneTracker instead of BuildEvaluator.
func IsStructureKey(key Key) bool {
	return string(key) == "swing_zone"
}

// SetupRole builds a RoleState for role from its declared (key, lookback)
// pairs: plain indicator keys go through BuildEvaluator; the special
// "swing_zone" key wires a SwingDetector/ZoneTracker pair under the fixed
// derived keys swing_zone_resistance_dist/swing_zone_support_dist, using
// lookback as both the left and right confirmation window; the tracker
// merges pivots within 0.2% of price and keeps every zone.
func SetupRole(role warmup.Role, specs []KeyLookback) (*RoleState, error) {
	rs := NewRoleState(role)
	for _, spec := range specs {
		if IsStructureKey(spec.Key) {
			rs.AddSwingDetector("swing_zone_resistance_dist", "swing_zone_support_dist", spec.Lookback, spec.Lookback)
			rs.AddZoneTracker("swing_zone_support_dist", "swing_zone_resistance_dist", 0.002, 0)
			continue
		}
		ev, err := BuildEvaluator(spec.Key, spec.Lookback)
		if err != nil {
			return nil, err
		}
		rs.AddEvaluator(ev)
	}
	return rs, nil
}

// KeyLookback is a (feature key, lookback) pair, the feature-package-local
// shape of a strategy's declared requirement before it is resolved
// against a specific role.
type KeyLookback struct {
	Key      Key
	Lookback int
}
