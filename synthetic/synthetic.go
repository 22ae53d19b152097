// Package synthetic implements a seeded, multi-timeframe synthetic candle
// generator and a provider.Provider adapter over it, for deterministic
// rehearsal of a run without touching a live data source.
//
// The generator never seeds from wall time: the only source of
// randomness is the caller-supplied seed, so two runs with the same
// (symbol, tfs, bars_per_tf, seed, pattern) are byte-identical.
package synthetic

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/tf"
)

// Pattern selects the drift/volatility shape of the generated price path.
type Pattern string

const (
	PatternTrendingUp   Pattern = "trending_up"
	PatternTrendingDown Pattern = "trending_down"
	PatternChoppy       Pattern = "choppy"
	PatternVolatile     Pattern = "volatile"
)

// Spec describes one generation request.
type Spec struct {
	Symbol     string
	TFs        []tf.Timeframe
	BarsPerTF  int // number of bars of the COARSEST requested TF; the 1m path and finer TFs derive from it
	Seed       int64
	Pattern    Pattern
	StartPrice float64 // defaults to 100.0 if zero
	StartTime  time.Time
}

// Candles holds the generated multi-TF, cross-aligned bar set plus a
// synthesized 8h funding series and 1m quote series (used for intrabar
// fill/liquidation simulation).
type Candles struct {
	Symbol  string
	Series  map[tf.Timeframe][]provider.Bar
	Funding []provider.FundingRecord
	Quotes1m []provider.Bar
}

// Generate produces a deterministic candle set. The finest requested TF
// (or 1m if 1m is not explicitly requested) is generated bar by bar from a
// seeded RNG; every coarser TF is derived by aggregating the finest
// series, which guarantees cross-TF alignment: a bar of the coarser TF
// closes at a bar-close of the finer TF.
func Generate(spec Spec) (Candles, error) {
	if spec.BarsPerTF <= 0 {
		return Candles{}, errs.New(errs.KindInvalidPolicy, "bars_per_tf must be > 0")
	}
	startPrice := spec.StartPrice
	if startPrice <= 0 {
		startPrice = 100.0
	}
	startTime := spec.StartTime
	if startTime.IsZero() {
		startTime = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	// Always generate at 1m granularity, then aggregate up. BarsPerTF is
	// interpreted as bars of the coarsest requested TF, giving enough 1m
	// history to aggregate cleanly.
	finest := tf.M1
	coarsest := finest
	for _, t := range spec.TFs {
		if t.Less(coarsest) {
			continue
		}
		coarsest = t
	}
	coarseStep, err := tf.Step(coarsest)
	if err != nil {
		return Candles{}, err
	}
	minuteBars := int(coarseStep/time.Minute) * spec.BarsPerTF
	if minuteBars < spec.BarsPerTF {
		minuteBars = spec.BarsPerTF
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	oneMin := generatePath(rng, startTime, startPrice, minuteBars, spec.Pattern)

	series := map[tf.Timeframe][]provider.Bar{finest: oneMin}
	for _, t := range spec.TFs {
		if t == finest {
			continue
		}
		agg, err := aggregate(oneMin, t)
		if err != nil {
			return Candles{}, err
		}
		series[t] = agg
	}

	funding := generateFunding(oneMin, spec.Symbol)

	return Candles{
		Symbol:   spec.Symbol,
		Series:   series,
		Funding:  funding,
		Quotes1m: oneMin,
	}, nil
}

// generatePath walks n one-minute bars from a seeded RNG. The random walk's
// drift and volatility are fixed per Pattern so the shape is recognizable
// while staying fully deterministic.
func generatePath(rng *rand.Rand, start time.Time, startPrice float64, n int, pattern Pattern) []provider.Bar {
	drift, vol := patternParams(pattern)
	out := make([]provider.Bar, 0, n)
	price := startPrice
	ts := start
	for i := 0; i < n; i++ {
		ret := drift + vol*rng.NormFloat64()
		open := price
		close := open * (1 + ret)
		if close <= 0 {
			close = open * 0.999 // guard against a pathological negative-price walk
		}
		wick := vol * math.Abs(rng.NormFloat64()) * open
		high := math.Max(open, close) + wick*0.5
		low := math.Min(open, close) - wick*0.5
		if low <= 0 {
			low = math.Min(open, close) * 0.999
		}
		volume := 1.0 + math.Abs(rng.NormFloat64())
		out = append(out, provider.Bar{
			TsOpen:  ts,
			TsClose: ts.Add(time.Minute),
			Open:    open,
			High:    high,
			Low:     low,
			Close:   close,
			Volume:  volume,
		})
		price = close
		ts = ts.Add(time.Minute)
	}
	return out
}

func patternParams(p Pattern) (drift, vol float64) {
	switch p {
	case PatternTrendingUp:
		return 0.0006, 0.0015
	case PatternTrendingDown:
		return -0.0006, 0.0015
	case PatternVolatile:
		return 0.0, 0.006
	case PatternChoppy:
		return 0.0, 0.001
	default:
		return 0.0, 0.001
	}
}

// aggregate rolls up a 1m bar series into timeframe t, aligning bucket
// boundaries with tf.AlignDown so the result satisfies the cross-TF
// alignment invariant.
func aggregate(oneMin []provider.Bar, t tf.Timeframe) ([]provider.Bar, error) {
	if len(oneMin) == 0 {
		return nil, nil
	}
	var out []provider.Bar
	var cur *provider.Bar
	var bucketOpen time.Time
	for _, b := range oneMin {
		open, err := tf.AlignDown(b.TsOpen, t)
		if err != nil {
			return nil, err
		}
		if cur == nil || !open.Equal(bucketOpen) {
			if cur != nil {
				out = append(out, *cur)
			}
			bucketOpen = open
			closeTs, err := tf.NextOpen(open, t)
			if err != nil {
				return nil, err
			}
			nb := provider.Bar{TsOpen: open, TsClose: closeTs, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			cur = &nb
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}

// generateFunding emits one funding record every 8h aligned to UTC
// midnight, matching Bybit's funding cadence. The rate is a small
// deterministic function of the bar index so it varies without another
// RNG draw.
func generateFunding(oneMin []provider.Bar, symbol string) []provider.FundingRecord {
	if len(oneMin) == 0 {
		return nil
	}
	var out []provider.FundingRecord
	start := oneMin[0].TsOpen
	end := oneMin[len(oneMin)-1].TsClose

	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	hoursSinceDayStart := start.Sub(dayStart) / time.Hour
	boundaryHour := (hoursSinceDayStart / 8) * 8
	cur := dayStart.Add(boundaryHour * time.Hour)

	idx := 0
	for t := cur; !t.After(end); t = t.Add(8 * time.Hour) {
		if t.Before(start) {
			idx++
			continue
		}
		rate := 0.0001 * math.Sin(float64(idx)/3.0)
		out = append(out, provider.FundingRecord{Ts: t, Rate: rate})
		idx++
	}
	return out
}

// Provider adapts a generated Candles set to provider.Provider.
type Provider struct {
	Candles Candles
}

func NewProvider(c Candles) *Provider { return &Provider{Candles: c} }

func (p *Provider) GetOHLCV(_ context.Context, symbol string, t tf.Timeframe, start, end time.Time) (provider.Series, error) {
	if symbol != p.Candles.Symbol {
		return provider.Series{}, errs.Newf(errs.KindNotFound, "unknown symbol %q", symbol)
	}
	bars, ok := p.Candles.Series[t]
	if !ok {
		return provider.Series{}, errs.Newf(errs.KindNotFound, "unknown timeframe %q", t)
	}
	window := provider.SliceWindow(bars, start, end)
	if len(window) == 0 {
		return provider.Series{}, errs.Newf(errs.KindNoDataInRange, "no bars for %s/%s in [%s,%s]", symbol, t, start, end)
	}
	return provider.Series{Symbol: symbol, TF: t, Bars: window}, nil
}

func (p *Provider) Get1mQuotes(_ context.Context, symbol string, start, end time.Time) (provider.Series, error) {
	if symbol != p.Candles.Symbol {
		return provider.Series{}, errs.Newf(errs.KindNotFound, "unknown symbol %q", symbol)
	}
	window := provider.SliceWindow(p.Candles.Quotes1m, start, end)
	if len(window) == 0 {
		return provider.Series{}, errs.Newf(errs.KindNoDataInRange, "no 1m quotes for %s in [%s,%s]", symbol, start, end)
	}
	return provider.Series{Symbol: symbol, TF: tf.M1, Bars: window}, nil
}

func (p *Provider) GetFunding(_ context.Context, symbol string, start, end time.Time) ([]provider.FundingRecord, error) {
	if symbol != p.Candles.Symbol {
		return nil, errs.Newf(errs.KindNotFound, "unknown symbol %q", symbol)
	}
	var out []provider.FundingRecord
	for _, f := range p.Candles.Funding {
		if f.Ts.Before(start) || f.Ts.After(end) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (p *Provider) GetOpenInterest(_ context.Context, symbol string, _, _ time.Time) ([]provider.OIRecord, error) {
	if symbol != p.Candles.Symbol {
		return nil, errs.Newf(errs.KindNotFound, "unknown symbol %q", symbol)
	}
	return nil, nil
}

func (p *Provider) ListTimeframes(_ context.Context, symbol string) ([]tf.Timeframe, error) {
	if symbol != p.Candles.Symbol {
		return nil, errs.Newf(errs.KindNotFound, "unknown symbol %q", symbol)
	}
	out := make([]tf.Timeframe, 0, len(p.Candles.Series))
	for t := range p.Candles.Series {
		out = append(out, t)
	}
	return out, nil
}
