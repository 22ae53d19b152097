// Package emacross implements a minimal two-EMA crossover strategy: it
// signals a long entry whenever the fast EMA sits above the slow EMA and
// emits nothing otherwise. It never requests an exit; an open position
// closes through the engine's SL/TP, liquidation, drawdown or
// end-of-data paths. It exists
// to exercise the engine end-to-end (see cmd/smoketest) with a strategy
// simple enough that its signal can be reasoned about by eye, the same
// role a plain moving-average regime filter plays in the teacher's own
// decide() (strategy.go's MA10-vs-MA30 filter), stripped of the model
// blending that filter was layered onto.
package emacross

import (
	"fmt"

	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/strategy"
	"github.com/chidi150c/perpbacktest/warmup"
)

// Strategy is stateless between calls: all rolling state it needs already
// lives in the snapshot's feature values, per the Strategy contract.
type Strategy struct {
	fastKey, slowKey           feature.Key
	fastLookback, slowLookback int
	registry                   *feature.Registry
}

// New builds a crossover strategy over ema_<fastLookback> and
// ema_<slowLookback> on the exec role. Registering both keys into a local
// registry in the exact order Lookbacks() declares them mirrors the index
// assignment feature.SetupRole performs for the real per-run RoleState, so
// this local registry's indices line up with the snapshot it is handed at
// Evaluate time without the snapshot needing to carry a registry itself.
func New(fastLookback, slowLookback int) *Strategy {
	fastKey := feature.Key(fmt.Sprintf("ema_%d", fastLookback))
	slowKey := feature.Key(fmt.Sprintf("ema_%d", slowLookback))
	reg := feature.NewRegistry()
	reg.Register(fastKey)
	reg.Register(slowKey)
	return &Strategy{
		fastKey:      fastKey,
		slowKey:      slowKey,
		fastLookback: fastLookback,
		slowLookback: slowLookback,
		registry:     reg,
	}
}

func (s *Strategy) ID() string      { return "ema_cross" }
func (s *Strategy) Version() string { return "1" }

func (s *Strategy) Lookbacks() []warmup.LookbackSpec {
	return []warmup.LookbackSpec{
		{Role: warmup.RoleExec, Key: string(s.fastKey), Lookback: s.fastLookback},
		{Role: warmup.RoleExec, Key: string(s.slowKey), Lookback: s.slowLookback},
	}
}

func (s *Strategy) Evaluate(snap feature.RuntimeSnapshot, params map[string]float64) (*strategy.Signal, error) {
	execSnap, ok := snap.Roles[warmup.RoleExec]
	if !ok || execSnap.IsStale {
		return nil, nil
	}
	fast, fastReady := execSnap.Values.Get(s.registry, s.fastKey)
	slow, slowReady := execSnap.Values.Get(s.registry, s.slowKey)
	if !fastReady || !slowReady {
		return nil, nil
	}
	if fast <= slow {
		return nil, nil
	}
	return &strategy.Signal{
		Direction:       strategy.Long,
		StrategyID:      s.ID(),
		StrategyVersion: s.Version(),
	}, nil
}
