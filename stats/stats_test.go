package stats_test

import (
	"testing"
	"time"

	"github.com/chidi150c/perpbacktest/artifact"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/chidi150c/perpbacktest/stats"
	"github.com/stretchr/testify/assert"
)

func closedTrade(dir sizing.Direction, netPnL float64, entryBar, exitBar int) *fill.Trade {
	fees := fill.FeeModel{TakerRate: 0}
	tr := fill.OpenEntry("t", "S", dir, time.Unix(0, 0), entryBar, 100, 1000, fees, 0, 0)
	exitPrice := 100.0
	if dir == sizing.DirLong {
		exitPrice = 100 + netPnL/10 // EntrySizeBase is 10 at entry price 100
	} else {
		exitPrice = 100 - netPnL/10
	}
	fill.Close(tr, time.Unix(60, 0), exitBar, exitPrice, fill.ExitSignal, fees)
	return tr
}

func TestCompute_WinRateAndCounts(t *testing.T) {
	trades := []*fill.Trade{
		closedTrade(sizing.DirLong, 100, 0, 5),
		closedTrade(sizing.DirLong, -50, 5, 8),
		closedTrade(sizing.DirShort, 30, 8, 10),
	}
	s := stats.Compute(trades, nil, 0)
	assert.Equal(t, 3, s.TradesCount)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.Equal(t, 2, s.LongTrades)
	assert.Equal(t, 1, s.ShortTrades)
	assert.InDelta(t, 80.0, s.NetPnLUSDT, 1e-6)
	assert.InDelta(t, 2.0/3.0, s.WinRate, 1e-9)
}

func TestCompute_ProfitFactorFallbackWhenNoLosses(t *testing.T) {
	trades := []*fill.Trade{closedTrade(sizing.DirLong, 100, 0, 1)}
	s := stats.Compute(trades, nil, 0)
	assert.Equal(t, 100.0, s.ProfitFactor, "zero gross loss with positive gross profit must use the fallback sentinel, not divide by zero")
}

func TestCompute_ProfitFactorRatio(t *testing.T) {
	trades := []*fill.Trade{
		closedTrade(sizing.DirLong, 100, 0, 1),
		closedTrade(sizing.DirLong, -50, 1, 2),
	}
	s := stats.Compute(trades, nil, 0)
	assert.InDelta(t, 2.0, s.ProfitFactor, 1e-9)
}

func TestCompute_PayoffRatio(t *testing.T) {
	trades := []*fill.Trade{
		closedTrade(sizing.DirLong, 100, 0, 1),
		closedTrade(sizing.DirLong, -25, 1, 2),
	}
	s := stats.Compute(trades, nil, 0)
	assert.InDelta(t, 4.0, s.PayoffRatio, 1e-9)
}

func TestCompute_EmptyTradesYieldsZeroedSummary(t *testing.T) {
	s := stats.Compute(nil, nil, 252)
	assert.Equal(t, 0, s.TradesCount)
	assert.Equal(t, 0.0, s.WinRate)
	assert.Equal(t, 0.0, s.ProfitFactor)
}

func TestCompute_MaxDrawdownFromEquityCurve(t *testing.T) {
	equity := []artifact.EquityRow{
		{Ts: time.Unix(0, 0), Equity: 10000},
		{Ts: time.Unix(60, 0), Equity: 11000},
		{Ts: time.Unix(120, 0), Equity: 9900},
		{Ts: time.Unix(180, 0), Equity: 10500},
	}
	s := stats.Compute(nil, equity, 0)
	assert.InDelta(t, 1100.0, s.MaxDrawdownUSDT, 1e-6)
	assert.InDelta(t, 10.0, s.MaxDrawdownPct, 1e-6)
}

func TestCompute_RecoveryFactor(t *testing.T) {
	trades := []*fill.Trade{closedTrade(sizing.DirLong, 200, 0, 1)}
	equity := []artifact.EquityRow{
		{Ts: time.Unix(0, 0), Equity: 10000},
		{Ts: time.Unix(60, 0), Equity: 9900},
		{Ts: time.Unix(120, 0), Equity: 10200},
	}
	s := stats.Compute(trades, equity, 0)
	assert.InDelta(t, 200.0/100.0, s.RecoveryFactor, 1e-9)
}

func TestBarsPerYear(t *testing.T) {
	assert.InDelta(t, 525600.0, stats.BarsPerYear(1), 1e-6)
	assert.Equal(t, 0.0, stats.BarsPerYear(0))
}
