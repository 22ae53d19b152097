// Package tf implements timeframe parsing and bar-alignment algebra.
//
// A Timeframe is a canonical member of a closed set with a total order by
// duration. All arithmetic is UTC-anchored; week/month boundaries use
// ISO-week and calendar-month semantics rather than fixed durations.
package tf

import (
	"time"

	"github.com/chidi150c/perpbacktest/errs"
)

// Timeframe is one of the canonical supported timeframes.
type Timeframe string

const (
	M1  Timeframe = "1m"
	M3  Timeframe = "3m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	M30 Timeframe = "30m"
	H1  Timeframe = "1h"
	H2  Timeframe = "2h"
	H4  Timeframe = "4h"
	H6  Timeframe = "6h"
	H12 Timeframe = "12h"
	D1  Timeframe = "D"
	W1  Timeframe = "W"
	Mo1 Timeframe = "M"
)

// ordered lists every canonical timeframe from finest to coarsest. Step
// returns an approximate duration for W/M since they are not fixed-duration.
var ordered = []Timeframe{M1, M3, M5, M15, M30, H1, H2, H4, H6, H12, D1, W1, Mo1}

var fixedStep = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M3:  3 * time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H2:  2 * time.Hour,
	H4:  4 * time.Hour,
	H6:  6 * time.Hour,
	H12: 12 * time.Hour,
	D1:  24 * time.Hour,
}

// Parse validates a raw timeframe string against the canonical set.
func Parse(raw string) (Timeframe, error) {
	t := Timeframe(raw)
	for _, c := range ordered {
		if c == t {
			return t, nil
		}
	}
	return "", errs.Newf(errs.KindUnknownTimeframe, "unknown timeframe %q", raw)
}

// Valid reports whether t is one of the canonical timeframes.
func (t Timeframe) Valid() bool {
	for _, c := range ordered {
		if c == t {
			return true
		}
	}
	return false
}

// rank returns t's position in the total order (finer = smaller rank). It
// panics on an invalid TF — callers must Parse first.
func (t Timeframe) rank() int {
	for i, c := range ordered {
		if c == t {
			return i
		}
	}
	panic("tf: rank called on invalid timeframe " + string(t))
}

// Less reports whether t is strictly finer (shorter step) than other.
func (t Timeframe) Less(other Timeframe) bool { return t.rank() < other.rank() }

// Step returns the nominal step duration for fixed-duration timeframes. For
// W and M it returns an approximate step used only for warmup-bar estimates
// (7 days / 30 days); exact alignment for those two goes through AlignDown
// and EnumerateCloses, never through arithmetic on Step.
func Step(t Timeframe) (time.Duration, error) {
	if d, ok := fixedStep[t]; ok {
		return d, nil
	}
	switch t {
	case W1:
		return 7 * 24 * time.Hour, nil
	case Mo1:
		return 30 * 24 * time.Hour, nil
	}
	return 0, errs.Newf(errs.KindUnknownTimeframe, "unknown timeframe %q", t)
}

// AlignDown returns the most recent bar-open timestamp at or before ts for
// the given timeframe. It is idempotent: AlignDown(AlignDown(ts)) ==
// AlignDown(ts).
func AlignDown(ts time.Time, t Timeframe) (time.Time, error) {
	ts = ts.UTC()
	if d, ok := fixedStep[t]; ok {
		unix := ts.Unix()
		step := int64(d / time.Second)
		aligned := unix - (unix % step)
		return time.Unix(aligned, 0).UTC(), nil
	}
	switch t {
	case W1:
		// ISO week: align to Monday 00:00 UTC.
		wd := int(ts.Weekday())
		if wd == 0 {
			wd = 7 // Sunday -> 7 so Monday is the start of the ISO week
		}
		daysSinceMonday := wd - 1
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -daysSinceMonday), nil
	case Mo1:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, errs.Newf(errs.KindUnknownTimeframe, "unknown timeframe %q", t)
}

// CloseOf returns the bar-close timestamp for the bar whose open is
// AlignDown(ts, t).
func CloseOf(ts time.Time, t Timeframe) (time.Time, error) {
	open, err := AlignDown(ts, t)
	if err != nil {
		return time.Time{}, err
	}
	return NextOpen(open, t)
}

// NextOpen returns the open timestamp of the bar immediately following the
// bar opening at open (open must already be aligned).
func NextOpen(open time.Time, t Timeframe) (time.Time, error) {
	if d, ok := fixedStep[t]; ok {
		return open.Add(d), nil
	}
	switch t {
	case W1:
		return open.AddDate(0, 0, 7), nil
	case Mo1:
		return time.Date(open.Year(), open.Month()+1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, errs.Newf(errs.KindUnknownTimeframe, "unknown timeframe %q", t)
}

// IsCloseOf reports whether ts is exactly a bar-close boundary of t.
func IsCloseOf(ts time.Time, t Timeframe) (bool, error) {
	aligned, err := AlignDown(ts, t)
	if err != nil {
		return false, err
	}
	return aligned.Equal(ts.UTC()), nil
}

// EnumerateCloses returns every bar-close timestamp of t in (start, end],
// ascending. Used by the warmup resolver and by tests asserting alignment.
func EnumerateCloses(start, end time.Time, t Timeframe) ([]time.Time, error) {
	cur, err := CloseOf(start, t)
	if err != nil {
		return nil, err
	}
	// CloseOf(start) is always strictly after start (a start that is
	// itself a close boundary yields the next close), which matches the
	// range's exclusion of start, so no rewind is needed.
	var out []time.Time
	for !cur.After(end) {
		out = append(out, cur)
		cur, err = NextOpen(cur, t)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SubtractBars returns ts shifted back by n bar-steps of t. For fixed-step
// TFs this is exact arithmetic; for W/M it walks bar-by-bar so calendar
// boundaries stay exact.
func SubtractBars(ts time.Time, t Timeframe, n int) (time.Time, error) {
	if n <= 0 {
		return ts, nil
	}
	if d, ok := fixedStep[t]; ok {
		return ts.Add(-time.Duration(n) * d), nil
	}
	cur := ts
	for i := 0; i < n; i++ {
		switch t {
		case W1:
			cur = cur.AddDate(0, 0, -7)
		case Mo1:
			cur = time.Date(cur.Year(), cur.Month()-1, cur.Day(), cur.Hour(), cur.Minute(), cur.Second(), 0, time.UTC)
		default:
			return time.Time{}, errs.Newf(errs.KindUnknownTimeframe, "unknown timeframe %q", t)
		}
	}
	return cur, nil
}
