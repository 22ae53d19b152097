// Package stats computes the summary metrics derived from a run's trades
// and equity curve: counts, PnL aggregates, rates, streaks, drawdown, and
// risk-adjusted return ratios.
package stats

import (
	"math"

	"github.com/chidi150c/perpbacktest/artifact"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/sizing"
)

// Summary mirrors the result.json fields that this package is
// responsible for deriving from trades and equity.
type Summary struct {
	TradesCount         int
	WinningTrades       int
	LosingTrades        int
	LongTrades          int
	ShortTrades         int
	NetPnLUSDT          float64
	GrossProfitUSDT     float64
	GrossLossUSDT       float64
	TotalFeesUSDT       float64
	ExpectancyUSDT      float64
	WinRate             float64
	ProfitFactor        float64
	PayoffRatio         float64
	LargestWinUSDT      float64
	LargestLossUSDT     float64
	MaxConsecutiveWins  int
	MaxConsecutiveLosses int
	MaxDrawdownUSDT     float64
	MaxDrawdownPct      float64
	Sharpe              float64
	Sortino             float64
	Calmar              float64
	RecoveryFactor      float64
	AvgTradeDurationBars float64
}

// BarsPerYear returns the number of exec bars in a year for a given
// exec-bar duration in minutes, used to annualize risk ratios.
func BarsPerYear(execMinutes float64) float64 {
	if execMinutes <= 0 {
		return 0
	}
	return (365.0 * 24.0 * 60.0) / execMinutes
}

// Compute derives a Summary from the closed trades and the equity curve.
func Compute(trades []*fill.Trade, equity []artifact.EquityRow, barsPerYear float64) Summary {
	var s Summary
	s.TradesCount = len(trades)

	var grossProfit, grossLoss, totalFees, sumDuration float64
	consecWins, consecLosses := 0, 0
	for _, t := range trades {
		if t.Direction == sizing.DirLong {
			s.LongTrades++
		} else {
			s.ShortTrades++
		}
		totalFees += t.FeesPaid
		sumDuration += float64(t.ExitBarIdx - t.EntryBarIdx)

		if t.NetPnL > 0 {
			s.WinningTrades++
			grossProfit += t.NetPnL
			consecWins++
			consecLosses = 0
			if t.NetPnL > s.LargestWinUSDT {
				s.LargestWinUSDT = t.NetPnL
			}
		} else if t.NetPnL < 0 {
			s.LosingTrades++
			grossLoss += t.NetPnL
			consecLosses++
			consecWins = 0
			if t.NetPnL < s.LargestLossUSDT {
				s.LargestLossUSDT = t.NetPnL
			}
		}
		if consecWins > s.MaxConsecutiveWins {
			s.MaxConsecutiveWins = consecWins
		}
		if consecLosses > s.MaxConsecutiveLosses {
			s.MaxConsecutiveLosses = consecLosses
		}
	}

	s.GrossProfitUSDT = grossProfit
	s.GrossLossUSDT = grossLoss
	s.TotalFeesUSDT = totalFees
	netSum := 0.0
	for _, t := range trades {
		netSum += t.NetPnL
	}
	s.NetPnLUSDT = netSum

	if s.TradesCount > 0 {
		s.ExpectancyUSDT = s.NetPnLUSDT / float64(s.TradesCount)
		s.WinRate = float64(s.WinningTrades) / float64(s.TradesCount)
		s.AvgTradeDurationBars = sumDuration / float64(s.TradesCount)
	}
	switch {
	case grossLoss == 0 && grossProfit > 0:
		s.ProfitFactor = 100.0
	case grossLoss != 0:
		s.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}
	if s.WinningTrades > 0 && s.LosingTrades > 0 {
		avgWin := grossProfit / float64(s.WinningTrades)
		avgLoss := math.Abs(grossLoss) / float64(s.LosingTrades)
		if avgLoss != 0 {
			s.PayoffRatio = avgWin / avgLoss
		}
	}

	s.MaxDrawdownUSDT, s.MaxDrawdownPct = maxDrawdown(equity)
	returns := barReturns(equity)
	s.Sharpe = sharpe(returns, barsPerYear)
	s.Sortino = sortino(returns, barsPerYear)
	s.Calmar = calmar(equity, s.MaxDrawdownPct)
	if s.MaxDrawdownUSDT > 0 {
		s.RecoveryFactor = s.NetPnLUSDT / s.MaxDrawdownUSDT
	}
	return s
}

func maxDrawdown(equity []artifact.EquityRow) (absDD, pctDD float64) {
	peak := 0.0
	started := false
	for _, e := range equity {
		if !started || e.Equity > peak {
			peak = e.Equity
			started = true
		}
		dd := peak - e.Equity
		if dd > absDD {
			absDD = dd
			if peak > 0 {
				pctDD = dd / peak * 100.0
			}
		}
	}
	return
}

func barReturns(equity []artifact.EquityRow) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func sharpe(returns []float64, barsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	m := mean(returns)
	sd := stddev(returns, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(barsPerYear)
}

func sortino(returns []float64, barsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	m := mean(returns)
	sumSq := 0.0
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	downsideStd := math.Sqrt(sumSq / float64(len(returns)))
	if downsideStd == 0 {
		return 0
	}
	return m / downsideStd * math.Sqrt(barsPerYear)
}

func calmar(equity []artifact.EquityRow, maxDDPct float64) float64 {
	if len(equity) < 2 || maxDDPct == 0 {
		return 0
	}
	initial := equity[0].Equity
	final := equity[len(equity)-1].Equity
	if initial <= 0 {
		return 0
	}
	years := equity[len(equity)-1].Ts.Sub(equity[0].Ts).Hours() / (365.0 * 24.0)
	if years <= 0 {
		return 0
	}
	cagr := math.Pow(final/initial, 1.0/years) - 1.0
	return cagr / (maxDDPct / 100.0)
}
