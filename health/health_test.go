package health_test

import (
	"testing"
	"time"

	"github.com/chidi150c/perpbacktest/health"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/tf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func h1Bars(start time.Time, n int) []provider.Bar {
	bars := make([]provider.Bar, n)
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Hour)
		bars[i] = provider.Bar{TsOpen: open, TsClose: open.Add(time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return bars
}

func TestCheck_Run_PassesOnCleanData(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	bars := h1Bars(start, 5)
	funding := []provider.FundingRecord{{Ts: start, Rate: 0.0001}, {Ts: end, Rate: 0.0001}}

	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{tf.H1: bars}, funding)
	require.True(t, r.Passed)
	assert.Empty(t, r.Gaps)
	assert.Empty(t, r.SanityIssues)
}

func TestCheck_Run_DetectsMissingSeries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{}, nil)
	assert.False(t, r.Passed)
	assert.NotEmpty(t, r.CoverageIssues)
}

func TestCheck_Run_DetectsInteriorGap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	bars := h1Bars(start, 6)
	bars = append(bars[:2], bars[3:]...) // drop the bar at index 2, opening a gap

	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{tf.H1: bars}, []provider.FundingRecord{{Ts: start}, {Ts: end}})
	require.False(t, r.Passed)
	require.NotEmpty(t, r.Gaps)
	assert.Equal(t, 1, r.Gaps[0].MissingCount)
}

func TestCheck_Run_DetectsHeadAndTailGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	bars := h1Bars(start.Add(time.Hour), 3) // missing the first hour and the last hour

	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{tf.H1: bars}, []provider.FundingRecord{{Ts: start}, {Ts: end}})
	require.False(t, r.Passed)
	assert.GreaterOrEqual(t, len(r.Gaps), 2)
}

func TestCheck_Run_DetectsNaNAndNegativeVolume(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	nan := func() float64 { var z float64; return z / z }()
	bars := []provider.Bar{
		{TsOpen: start, TsClose: start.Add(time.Hour), Open: nan, High: 1, Low: 1, Close: 1, Volume: 1},
		{TsOpen: start.Add(time.Hour), TsClose: end, Open: 1, High: 1, Low: 1, Close: 1, Volume: -1},
	}
	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{tf.H1: bars}, []provider.FundingRecord{{Ts: start}, {Ts: end}})
	require.False(t, r.Passed)
	require.Len(t, r.SanityIssues, 2)
	assert.Equal(t, "nan_value", r.SanityIssues[0].IssueType)
	assert.Equal(t, "negative_volume", r.SanityIssues[1].IssueType)
}

func TestCheck_Run_DetectsOHLCRangeViolation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	bars := []provider.Bar{
		{TsOpen: start, TsClose: end, Open: 100, High: 99, Low: 101, Close: 100, Volume: 1},
	}
	c := health.NewCheck(start, end, []tf.Timeframe{tf.H1}, "BTCUSDT")
	r := c.Run(map[tf.Timeframe][]provider.Bar{tf.H1: bars}, []provider.FundingRecord{{Ts: start}, {Ts: end}})
	require.False(t, r.Passed)
	assert.Equal(t, "ohlc_range", r.SanityIssues[0].IssueType)
}
