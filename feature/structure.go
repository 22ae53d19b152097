// Swing-pivot and zone structure detection, built around confirmation
// delay so a pivot is never visible to a snapshot before the bar count
// that proves it (right_bars) has actually closed.
package feature

import (
	"github.com/chidi150c/perpbacktest/provider"
)

// PivotKind distinguishes a swing high from a swing low.
type PivotKind int

const (
	PivotHigh PivotKind = iota
	PivotLow
)

// Pivot is one confirmed swing point, addressed by the integer bar index
// of the candidate bar (not its timestamp), so downstream consumers can
// do index arithmetic without re-parsing time.
type Pivot struct {
	Index int
	Kind  PivotKind
	Price float64
}

// SwingDetector finds local extrema confirmed by leftBars bars before and
// rightBars bars after the candidate. A pivot is only emitted once
// rightBars additional closed bars have been observed, which is what
// keeps the detector free of lookahead: nothing about bar i is read into
// a snapshot before bar i+rightBars has closed.
type SwingDetector struct {
	leftBars  int
	rightBars int

	highs   []float64
	lows    []float64
	nextIdx int

	pending []Pivot // buffered, not yet fully confirmed/emitted
}

func NewSwingDetector(leftBars, rightBars int) *SwingDetector {
	return &SwingDetector{leftBars: leftBars, rightBars: rightBars}
}

// Update feeds one closed bar and returns any pivots whose confirmation
// window just completed (usually zero or one).
func (d *SwingDetector) Update(bar provider.Bar) []Pivot {
	d.highs = append(d.highs, bar.High)
	d.lows = append(d.lows, bar.Low)
	idx := d.nextIdx
	d.nextIdx++

	// A candidate at position c can only be evaluated once leftBars bars
	// precede it and rightBars bars follow it.
	c := idx - d.rightBars
	if c < d.leftBars {
		return nil
	}
	var out []Pivot
	if d.isSwingHigh(c) {
		out = append(out, Pivot{Index: c, Kind: PivotHigh, Price: d.highs[c]})
	}
	if d.isSwingLow(c) {
		out = append(out, Pivot{Index: c, Kind: PivotLow, Price: d.lows[c]})
	}
	return out
}

func (d *SwingDetector) isSwingHigh(c int) bool {
	v := d.highs[c]
	for i := c - d.leftBars; i <= c+d.rightBars; i++ {
		if i == c {
			continue
		}
		if d.highs[i] >= v {
			return false
		}
	}
	return true
}

func (d *SwingDetector) isSwingLow(c int) bool {
	v := d.lows[c]
	for i := c - d.leftBars; i <= c+d.rightBars; i++ {
		if i == c {
			continue
		}
		if d.lows[i] <= v {
			return false
		}
	}
	return true
}

// ZoneKind distinguishes a support zone (built from swing lows) from a
// resistance zone (built from swing highs).
type ZoneKind int

const (
	ZoneSupport ZoneKind = iota
	ZoneResistance
)

// Zone is a confirmed price band formed from one or more nearby pivots of
// the same kind, widened by a tolerance so later touches count as the
// same zone instead of spawning a new one.
type Zone struct {
	Kind      ZoneKind
	Low       float64
	High      float64
	Touches   int
	LastIndex int
}

// ZoneTracker merges confirmed pivots into zones using a tolerance
// expressed as a fraction of price (e.g. 0.002 for 0.2%).
type ZoneTracker struct {
	tolerance float64
	maxZones  int
	zones     []Zone
}

func NewZoneTracker(tolerance float64, maxZones int) *ZoneTracker {
	return &ZoneTracker{tolerance: tolerance, maxZones: maxZones}
}

// Observe folds a newly confirmed pivot into an existing zone or starts a
// new one, evicting the least-recently-touched zone if over capacity.
func (z *ZoneTracker) Observe(p Pivot) {
	kind := ZoneSupport
	if p.Kind == PivotHigh {
		kind = ZoneResistance
	}
	band := p.Price * z.tolerance

	for i := range z.zones {
		zn := &z.zones[i]
		if zn.Kind != kind {
			continue
		}
		if p.Price >= zn.Low-band && p.Price <= zn.High+band {
			if p.Price < zn.Low {
				zn.Low = p.Price
			}
			if p.Price > zn.High {
				zn.High = p.Price
			}
			zn.Touches++
			zn.LastIndex = p.Index
			return
		}
	}

	z.zones = append(z.zones, Zone{Kind: kind, Low: p.Price - band, High: p.Price + band, Touches: 1, LastIndex: p.Index})
	if z.maxZones > 0 && len(z.zones) > z.maxZones {
		evictOldest(&z.zones)
	}
}

func evictOldest(zones *[]Zone) {
	zs := *zones
	oldest := 0
	for i := 1; i < len(zs); i++ {
		if zs[i].LastIndex < zs[oldest].LastIndex {
			oldest = i
		}
	}
	*zones = append(zs[:oldest], zs[oldest+1:]...)
}

// Zones returns the currently tracked zones of the given kind.
func (z *ZoneTracker) Zones(kind ZoneKind) []Zone {
	var out []Zone
	for _, zn := range z.zones {
		if zn.Kind == kind {
			out = append(out, zn)
		}
	}
	return out
}

// NearestDistance returns the absolute distance from price to the nearest
// edge of the nearest zone of the given kind, and whether one exists.
func (z *ZoneTracker) NearestDistance(price float64, kind ZoneKind) (float64, bool) {
	best := 0.0
	found := false
	for _, zn := range z.zones {
		if zn.Kind != kind {
			continue
		}
		d := distanceToRange(price, zn.Low, zn.High)
		if !found || d < best {
			best = d
			found = true
		}
	}
	return best, found
}

func distanceToRange(price, lo, hi float64) float64 {
	if price < lo {
		return lo - price
	}
	if price > hi {
		return price - hi
	}
	return 0
}
