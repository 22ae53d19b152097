// Package health implements the data health gate: coverage, gap, and
// sanity checks run before a backtest is allowed to start.
//
// The gate never modifies data; it only reports. Auto-repair, when
// enabled, is a caller concern outside this package — this package
// exposes bounded-retry-friendly results but performs no I/O itself.
package health

import (
	"time"

	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/tf"
)

// FundingTolerance is the coverage slack for funding series, since funding
// only occurs every 8h.
const FundingTolerance = 8 * time.Hour

// GapRange is a range of missing data within a required series/TF.
type GapRange struct {
	Start        time.Time
	End          time.Time
	TF           tf.Timeframe
	Series       string // "ohlcv", "funding", "oi"
	MissingCount int
}

// CoverageInfo reports coverage for one (series, tf) pair.
type CoverageInfo struct {
	Series      string
	TF          tf.Timeframe
	Earliest    time.Time
	Latest      time.Time
	BarCount    int
	CoversStart bool
	CoversEnd   bool
}

// SanityIssue is a single OHLC/volume sanity violation.
type SanityIssue struct {
	Timestamp time.Time
	Series    string
	TF        tf.Timeframe
	IssueType string // "ohlc_range" (also for ts_close != ts_open + step), "nan_value", "negative_volume"
	Detail    string
}

// Report is the full result of a data health check.
type Report struct {
	LoadStart      time.Time
	LoadEnd        time.Time
	RequiredTFs    []tf.Timeframe
	RequiredSeries []string
	Symbol         string

	Passed bool

	Coverage       map[string]CoverageInfo
	CoverageIssues []string

	Gaps            []GapRange
	TotalMissingBar int

	SanityIssues []SanityIssue
}

// Check runs the full gate against a set of already-loaded series. The
// caller is responsible for fetching the series from a provider.Provider;
// this package is pure computation over bars already in memory and keeps
// no connection to the data store.
type Check struct {
	LoadStart      time.Time
	LoadEnd        time.Time
	RequiredTFs    []tf.Timeframe
	Symbol         string
	RequiredSeries []string // default {"ohlcv", "funding"}
}

// NewCheck builds a Check requiring ohlcv and funding coverage.
func NewCheck(loadStart, loadEnd time.Time, requiredTFs []tf.Timeframe, symbol string) Check {
	return Check{
		LoadStart:      loadStart,
		LoadEnd:        loadEnd,
		RequiredTFs:    requiredTFs,
		Symbol:         symbol,
		RequiredSeries: []string{"ohlcv", "funding"},
	}
}

// Run evaluates coverage, gaps, and sanity for the supplied OHLCV series
// (keyed by TF) and funding records, producing a full Report.
func (c Check) Run(ohlcv map[tf.Timeframe][]provider.Bar, funding []provider.FundingRecord) Report {
	r := Report{
		LoadStart:      c.LoadStart,
		LoadEnd:        c.LoadEnd,
		RequiredTFs:    c.RequiredTFs,
		RequiredSeries: c.RequiredSeries,
		Symbol:         c.Symbol,
		Coverage:       map[string]CoverageInfo{},
	}

	for _, t := range c.RequiredTFs {
		bars := ohlcv[t]
		info, issues := c.checkCoverageOHLCV(t, bars)
		r.Coverage[coverageKey("ohlcv", t)] = info
		r.CoverageIssues = append(r.CoverageIssues, issues...)

		gaps := c.detectGaps(t, bars)
		r.Gaps = append(r.Gaps, gaps...)
		for _, g := range gaps {
			r.TotalMissingBar += g.MissingCount
		}

		r.SanityIssues = append(r.SanityIssues, c.sanityCheck(t, bars)...)
	}

	if contains(c.RequiredSeries, "funding") {
		info, issues := c.checkCoverageFunding(funding)
		r.Coverage[coverageKey("funding", "")] = info
		r.CoverageIssues = append(r.CoverageIssues, issues...)
	}

	r.Passed = len(r.Gaps) == 0 && len(r.CoverageIssues) == 0 && len(r.SanityIssues) == 0
	return r
}

func coverageKey(series string, t tf.Timeframe) string {
	if t == "" {
		return series
	}
	return series + "/" + string(t)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (c Check) checkCoverageOHLCV(t tf.Timeframe, bars []provider.Bar) (CoverageInfo, []string) {
	info := CoverageInfo{Series: "ohlcv", TF: t, BarCount: len(bars)}
	var issues []string
	if len(bars) == 0 {
		issues = append(issues, "no data for ohlcv/"+string(t))
		return info, issues
	}
	info.Earliest = bars[0].TsOpen
	info.Latest = bars[len(bars)-1].TsClose
	info.CoversStart = !info.Earliest.After(c.LoadStart)
	info.CoversEnd = !info.Latest.Before(c.LoadEnd)
	if !info.CoversStart {
		issues = append(issues, "ohlcv/"+string(t)+" does not cover load_start")
	}
	if !info.CoversEnd {
		issues = append(issues, "ohlcv/"+string(t)+" does not cover load_end")
	}
	return info, issues
}

func (c Check) checkCoverageFunding(records []provider.FundingRecord) (CoverageInfo, []string) {
	info := CoverageInfo{Series: "funding", BarCount: len(records)}
	var issues []string
	if len(records) == 0 {
		issues = append(issues, "no data for funding")
		return info, issues
	}
	info.Earliest = records[0].Ts
	info.Latest = records[len(records)-1].Ts
	info.CoversStart = !info.Earliest.After(c.LoadStart.Add(FundingTolerance))
	info.CoversEnd = !info.Latest.Before(c.LoadEnd.Add(-FundingTolerance))
	if !info.CoversStart {
		issues = append(issues, "funding does not cover load_start (within 8h tolerance)")
	}
	if !info.CoversEnd {
		issues = append(issues, "funding does not cover load_end (within 8h tolerance)")
	}
	return info, issues
}

// detectGaps walks consecutive bars and reports any delta > step as a gap,
// plus head/tail gaps against [load_start, load_end].
func (c Check) detectGaps(t tf.Timeframe, bars []provider.Bar) []GapRange {
	step, err := tf.Step(t)
	if err != nil || len(bars) == 0 {
		return nil
	}
	var gaps []GapRange

	if bars[0].TsOpen.After(c.LoadStart) {
		missing := int(bars[0].TsOpen.Sub(c.LoadStart) / step)
		if missing > 0 {
			gaps = append(gaps, GapRange{Start: c.LoadStart, End: bars[0].TsOpen, TF: t, Series: "ohlcv", MissingCount: missing})
		}
	}

	for i := 1; i < len(bars); i++ {
		delta := bars[i].TsOpen.Sub(bars[i-1].TsOpen)
		if delta > step {
			missing := int(delta/step) - 1
			gaps = append(gaps, GapRange{Start: bars[i-1].TsClose, End: bars[i].TsOpen, TF: t, Series: "ohlcv", MissingCount: missing})
		}
	}

	last := bars[len(bars)-1]
	if last.TsClose.Before(c.LoadEnd) {
		missing := int(c.LoadEnd.Sub(last.TsClose) / step)
		if missing > 0 {
			gaps = append(gaps, GapRange{Start: last.TsClose, End: c.LoadEnd, TF: t, Series: "ohlcv", MissingCount: missing})
		}
	}
	return gaps
}

func (c Check) sanityCheck(t tf.Timeframe, bars []provider.Bar) []SanityIssue {
	step, err := tf.Step(t)
	if err != nil {
		return nil
	}
	var issues []SanityIssue
	for _, b := range bars {
		if isNaN(b.Open) || isNaN(b.High) || isNaN(b.Low) || isNaN(b.Close) || isNaN(b.Volume) {
			issues = append(issues, SanityIssue{Timestamp: b.TsOpen, Series: "ohlcv", TF: t, IssueType: "nan_value", Detail: "OHLCV contains NaN"})
			continue
		}
		if b.Volume < 0 {
			issues = append(issues, SanityIssue{Timestamp: b.TsOpen, Series: "ohlcv", TF: t, IssueType: "negative_volume", Detail: "volume < 0"})
		}
		if b.Low > min(b.Open, b.Close) || b.High < max(b.Open, b.Close) {
			issues = append(issues, SanityIssue{Timestamp: b.TsOpen, Series: "ohlcv", TF: t, IssueType: "ohlc_range", Detail: "high/low do not bound open/close"})
		}
		if !b.TsClose.Equal(b.TsOpen.Add(step)) {
			issues = append(issues, SanityIssue{Timestamp: b.TsOpen, Series: "ohlcv", TF: t, IssueType: "ohlc_range", Detail: "ts_close != ts_open + step"})
		}
	}
	return issues
}

func isNaN(f float64) bool { return f != f }
func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
