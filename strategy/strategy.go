// Package strategy defines the pure snapshot-to-signal contract the
// engine drives, plus a registry keyed by (id, version) so a run
// references a strategy by stable identity rather than a function value.
package strategy

import (
	"sync"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/warmup"
)

// Direction is the side a Signal requests.
type Direction int

const (
	Long Direction = iota
	Short
)

// Signal is what a strategy emits when it wants to open a position. A
// nil *Signal from Evaluate means "do nothing this bar".
type Signal struct {
	Direction        Direction
	SizeHintUSDT     *float64
	StopLoss         *float64
	TakeProfit       *float64
	StrategyID       string
	StrategyVersion  string
	Metadata         map[string]string
}

// Strategy is a pure function of a snapshot and its own parameters. It
// must not perform I/O and must not hold state between calls — any
// rolling state it needs must already be present in the snapshot's
// feature values.
type Strategy interface {
	ID() string
	Version() string
	Evaluate(snap feature.RuntimeSnapshot, params map[string]float64) (*Signal, error)

	// Lookbacks declares the (role, key, lookback) triples this strategy
	// needs, so the warmup resolver and feature builder can be set up
	// before the first bar arrives. It is called once at registration
	// time and must return the same value every time.
	Lookbacks() []warmup.LookbackSpec
}

// Registry maps (id, version) to a registered Strategy, mirroring the
// feature registry's "construct once at startup, treat as immutable
// afterward" discipline.
type Registry struct {
	mu    sync.RWMutex
	index map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{index: map[string]Strategy{}}
}

func key(id, version string) string { return id + "@" + version }

// Register adds s under its own (ID(), Version()). Registering the same
// (id, version) twice overwrites the previous entry.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[key(s.ID(), s.Version())] = s
}

// Lookup returns the strategy registered for (id, version), or
// *errs.Error{Kind: UnknownStrategy}.
func (r *Registry) Lookup(id, version string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.index[key(id, version)]
	if !ok {
		return nil, errs.Newf(errs.KindUnknownStrategy, "unknown strategy %s@%s", id, version)
	}
	return s, nil
}
