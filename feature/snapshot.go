// Per-role feature state and the RuntimeSnapshot assembled at every
// exec-bar close. Each role (exec/mtf/htf) owns its own registry,
// evaluator set, and structure trackers, advancing independently as its
// own timeframe closes bars; the snapshot pulls the most recent closed
// state from each role without forcing them into lockstep.
package feature

import (
	"time"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/warmup"
)

// RoleState holds one role's streaming feature state: its registry, its
// evaluators in registration order, and the last assembled values.
type RoleState struct {
	Role      warmup.Role
	Registry  *Registry
	evaluators []Evaluator
	swings    []*SwingDetector
	swingKeys []Key
	zones     []*ZoneTracker
	zoneKeys  []Key

	lastValues   Values
	lastTsClose  time.Time
	lastBar      provider.Bar
	hasAdvanced  bool
}

// NewRoleState builds an empty role state bound to its own registry.
func NewRoleState(role warmup.Role) *RoleState {
	return &RoleState{Role: role, Registry: NewRegistry()}
}

// AddEvaluator registers e's key and adds it to this role's evaluator
// chain. Must be called before the first Advance.
func (rs *RoleState) AddEvaluator(e Evaluator) {
	rs.Registry.Register(e.Key())
	rs.evaluators = append(rs.evaluators, e)
}

// AddSwingDetector registers a swing-pivot detector under two keys. Its
// confirmed pivots feed the ZoneTracker added at the same position by
// AddZoneTracker, and the keys hold the distances from the bar close to
// that tracker's nearest resistance zone (highKey) and nearest support
// zone (lowKey). Without a paired tracker both keys stay not ready.
func (rs *RoleState) AddSwingDetector(highKey, lowKey Key, leftBars, rightBars int) *SwingDetector {
	rs.Registry.Register(highKey)
	rs.Registry.Register(lowKey)
	d := NewSwingDetector(leftBars, rightBars)
	rs.swings = append(rs.swings, d)
	rs.swingKeys = append(rs.swingKeys, highKey, lowKey)
	return d
}

// AddZoneTracker registers a zone tracker producing distance-to-nearest
// values under supportKey/resistanceKey.
func (rs *RoleState) AddZoneTracker(supportKey, resistanceKey Key, tolerance float64, maxZones int) *ZoneTracker {
	rs.Registry.Register(supportKey)
	rs.Registry.Register(resistanceKey)
	z := NewZoneTracker(tolerance, maxZones)
	rs.zones = append(rs.zones, z)
	rs.zoneKeys = append(rs.zoneKeys, supportKey, resistanceKey)
	return z
}

// Advance feeds one newly closed bar of this role's timeframe: every
// evaluator steps once, every swing detector steps and folds any newly
// confirmed pivot into its paired zone tracker, and the role's cached
// snapshot values are refreshed.
func (rs *RoleState) Advance(bar provider.Bar) {
	vals := rs.Registry.NewValues()
	for _, e := range rs.evaluators {
		idx, _ := rs.Registry.Index(e.Key())
		v, ready := e.Update(bar)
		vals.V[idx] = v
		vals.Ready[idx] = ready
	}

	for i, d := range rs.swings {
		highKey, lowKey := rs.swingKeys[2*i], rs.swingKeys[2*i+1]
		pivots := d.Update(bar)
		for _, p := range pivots {
			if i < len(rs.zones) {
				rs.zones[i].Observe(p)
			}
		}
		highIdx, _ := rs.Registry.Index(highKey)
		lowIdx, _ := rs.Registry.Index(lowKey)
		if i < len(rs.zones) {
			if dist, ok := rs.zones[i].NearestDistance(bar.Close, ZoneResistance); ok {
				vals.V[highIdx] = dist
				vals.Ready[highIdx] = true
			}
			if dist, ok := rs.zones[i].NearestDistance(bar.Close, ZoneSupport); ok {
				vals.V[lowIdx] = dist
				vals.Ready[lowIdx] = true
			}
		}
	}

	rs.lastValues = vals
	rs.lastTsClose = bar.TsClose
	rs.lastBar = bar
	rs.hasAdvanced = true
}

// LastTsClose returns the close timestamp this role last advanced to, or
// the zero time if it has never advanced. Callers use it to decide which
// upstream bars of this role's own TF still need to be fed in.
func (rs *RoleState) LastTsClose() time.Time { return rs.lastTsClose }

// RoleSnapshot is one role's contribution to a RuntimeSnapshot.
type RoleSnapshot struct {
	CtxTsClose      time.Time
	FeaturesTsClose time.Time
	Values          Values
	IsStale         bool
}

// Snapshot returns this role's current contribution relative to
// execTsClose: a role whose own last close is before execTsClose's open
// (i.e. it hasn't advanced at all, or its most recent close predates the
// exec bar) is marked stale rather than silently reporting old values as
// current.
func (rs *RoleState) Snapshot(execTsOpen, execTsClose time.Time) RoleSnapshot {
	if !rs.hasAdvanced {
		return RoleSnapshot{CtxTsClose: execTsClose, IsStale: true, Values: rs.Registry.NewValues()}
	}
	stale := rs.lastTsClose.Before(execTsOpen)
	return RoleSnapshot{
		CtxTsClose:      execTsClose,
		FeaturesTsClose: rs.lastTsClose,
		Values:          rs.lastValues,
		IsStale:         stale,
	}
}

// ExchangeState is the position/equity context folded into a snapshot,
// supplied by the engine (feature package owns no exchange state itself).
type ExchangeState struct {
	PositionSide  string // "none", "long", "short"
	PositionSize  float64
	EntryPrice    float64
	TakeProfit    *float64
	StopLoss      *float64
	UnrealizedPnL float64
	Equity        float64
	UsedMargin    float64
}

// RuntimeSnapshot is the frozen view assembled at one exec-bar close.
type RuntimeSnapshot struct {
	Symbol  string
	ExecBar provider.Bar

	Roles map[warmup.Role]RoleSnapshot

	Exchange ExchangeState
}

// Builder owns one RoleState per role and assembles RuntimeSnapshots at
// exec-bar closes.
type Builder struct {
	Symbol string
	Roles  map[warmup.Role]*RoleState
}

// NewBuilder constructs a Builder with an empty RoleState per role.
func NewBuilder(symbol string, roles []warmup.Role) *Builder {
	b := &Builder{Symbol: symbol, Roles: map[warmup.Role]*RoleState{}}
	for _, r := range roles {
		b.Roles[r] = NewRoleState(r)
	}
	return b
}

// RoleOf returns the role state, registering a new empty one if absent.
func (b *Builder) RoleOf(role warmup.Role) *RoleState {
	rs, ok := b.Roles[role]
	if !ok {
		rs = NewRoleState(role)
		b.Roles[role] = rs
	}
	return rs
}

// Assemble builds a RuntimeSnapshot at an exec-bar close. requiredRoles
// lists roles that must not be stale; if any required role is stale, an
// error is returned so the caller can skip the bar rather than hand a
// strategy a snapshot it cannot trust.
func (b *Builder) Assemble(execBar provider.Bar, exch ExchangeState, requiredRoles []warmup.Role) (RuntimeSnapshot, error) {
	snap := RuntimeSnapshot{
		Symbol:   b.Symbol,
		ExecBar:  execBar,
		Roles:    map[warmup.Role]RoleSnapshot{},
		Exchange: exch,
	}
	for role, rs := range b.Roles {
		snap.Roles[role] = rs.Snapshot(execBar.TsOpen, execBar.TsClose)
	}
	for _, role := range requiredRoles {
		rsnap, ok := snap.Roles[role]
		if !ok || rsnap.IsStale {
			return snap, errs.Newf(errs.KindRoleNotReady, "role %q not ready at exec close %s", role, execBar.TsClose)
		}
	}
	return snap, nil
}
