// Package provider defines the OHLCV/funding provider contract the core
// consumes. The core never implements a concrete provider backed by a
// network call or a database — that belongs to whatever embeds this
// module. Only the interface and the in-memory Series helper live here.
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/tf"
)

// Bar is a single OHLCV candle.
type Bar struct {
	TsOpen  time.Time
	TsClose time.Time
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  float64
}

// Sane reports whether the bar satisfies basic OHLC invariants:
// low <= min(open, close), high >= max(open, close), volume >= 0, and
// ts_close == ts_open + step.
func (b Bar) Sane(step time.Duration) bool {
	if b.Volume < 0 {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close {
		return false
	}
	if b.High < b.Open || b.High < b.Close {
		return false
	}
	if !b.TsClose.Equal(b.TsOpen.Add(step)) {
		return false
	}
	return true
}

// FundingRecord is a single funding rate observation.
type FundingRecord struct {
	Ts   time.Time
	Rate float64
}

// OIRecord is a single open-interest observation.
type OIRecord struct {
	Ts time.Time
	OI float64
}

// Series is an ordered, deduplicated, strictly-monotonic bar sequence for
// one (symbol, tf) pair.
type Series struct {
	Symbol string
	TF     tf.Timeframe
	Bars   []Bar
}

// Validate checks the series-level invariants: ascending ts_open,
// uniqueness, and per-bar OHLC sanity.
func (s Series) Validate() error {
	step, err := tf.Step(s.TF)
	if err != nil {
		return err
	}
	var prev *time.Time
	for i, b := range s.Bars {
		if !b.Sane(step) {
			return errs.Newf(errs.KindSanityViolation, "bar %d of %s/%s fails OHLC invariants", i, s.Symbol, s.TF)
		}
		if prev != nil {
			if !b.TsOpen.After(*prev) {
				return errs.Newf(errs.KindSanityViolation, "bar %d of %s/%s is not strictly monotonic", i, s.Symbol, s.TF)
			}
		}
		ts := b.TsOpen
		prev = &ts
	}
	return nil
}

// Provider is the contract the core consumes for historical market data.
// Implementations MUST return bars in ascending ts_open with no
// duplicates and MUST NOT perform mutation of caller-owned data.
type Provider interface {
	GetOHLCV(ctx context.Context, symbol string, timeframe tf.Timeframe, start, end time.Time) (Series, error)
	Get1mQuotes(ctx context.Context, symbol string, start, end time.Time) (Series, error)
	GetFunding(ctx context.Context, symbol string, start, end time.Time) ([]FundingRecord, error)
	GetOpenInterest(ctx context.Context, symbol string, start, end time.Time) ([]OIRecord, error)
	ListTimeframes(ctx context.Context, symbol string) ([]tf.Timeframe, error)
}

// SliceWindow returns the subset of bars with start <= ts_open and
// ts_close <= end, preserving order. Used by in-memory providers and by
// tests asserting no out-of-window bars are returned.
func SliceWindow(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.TsOpen.Before(start) {
			continue
		}
		if b.TsClose.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// SortBars sorts bars ascending by ts_open in place; used by fixture
// loaders that may receive out-of-order rows.
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].TsOpen.Before(bars[j].TsOpen) })
}
