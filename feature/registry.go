// Package feature implements the feature snapshot builder: per-TF rolling
// indicator/structure state and the RuntimeSnapshot assembled at each
// exec-bar close.
//
// The feature bundle is modeled as a two-layer structure: an immutable
// Registry assigning each allow-listed feature key a contiguous index at
// startup, plus a flat []float64 per snapshot. Lookup is a bounds check
// against a known index, not a map/string-hash on the hot path.
package feature

import (
	"sort"
	"sync"

	"github.com/chidi150c/perpbacktest/errs"
)

// Key is an allow-listed feature name (e.g. "ema_20", "rsi_14").
type Key string

// Registry assigns stable indices to feature keys. It is built once at
// startup, when evaluators are registered for a run, and treated as
// immutable afterward.
type Registry struct {
	mu      sync.RWMutex
	index   map[Key]int
	ordered []Key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[Key]int{}}
}

// Register assigns key the next free index if it isn't already present,
// and returns its index either way. Registration order is deterministic
// (call order), so two runs declaring the same keys in the same order
// produce byte-identical index assignments.
func (r *Registry) Register(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.index[key]; ok {
		return idx
	}
	idx := len(r.ordered)
	r.index[key] = idx
	r.ordered = append(r.ordered, key)
	return idx
}

// Index returns key's index and whether it is registered. Unknown keys
// must surface as *errs.Error with Kind UnknownFeature at the call site,
// not as a silent -1.
func (r *Registry) Index(key Key) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[key]
	return idx, ok
}

// MustIndex returns key's index or an UnknownFeature error.
func (r *Registry) MustIndex(key Key) (int, error) {
	idx, ok := r.Index(key)
	if !ok {
		return 0, errs.Newf(errs.KindUnknownFeature, "unknown feature key %q", key)
	}
	return idx, nil
}

// Len returns the number of registered keys (the width of every snapshot's
// flat value slice).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// SortedKeys returns the registered keys sorted lexically; used only for
// stable artifact/debug output, never for index assignment.
func (r *Registry) SortedKeys() []Key {
	keys := r.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Values is the flat per-snapshot value vector plus per-slot readiness
// (an evaluator that hasn't satisfied its own lookback yet reports not
// ready, distinct from the role-level is_stale flag in RuntimeSnapshot).
type Values struct {
	V     []float64
	Ready []bool
}

// NewValues allocates a Values sized to the registry's current width.
func (r *Registry) NewValues() Values {
	n := r.Len()
	return Values{V: make([]float64, n), Ready: make([]bool, n)}
}

// Get returns the value at key, and whether it is both registered and
// ready. Returns (0, false) for an unregistered key rather than panicking
// — callers that must treat an unknown key as an error should use
// Registry.MustIndex directly.
func (vs Values) Get(r *Registry, key Key) (float64, bool) {
	idx, ok := r.Index(key)
	if !ok || idx >= len(vs.V) {
		return 0, false
	}
	return vs.V[idx], vs.Ready[idx]
}
