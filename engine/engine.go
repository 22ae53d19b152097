// Package engine implements the event loop that drives a run forward
// bar-by-bar on the exec timeframe: Init -> Preflight -> Warmup ->
// Running -> (Closed | Halted). Scheduling is single-threaded and
// cooperative; the only suspension points are provider I/O and artifact
// writes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chidi150c/perpbacktest/artifact"
	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/health"
	"github.com/chidi150c/perpbacktest/play"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/chidi150c/perpbacktest/risk"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/chidi150c/perpbacktest/stats"
	"github.com/chidi150c/perpbacktest/strategy"
	"github.com/chidi150c/perpbacktest/tf"
	"github.com/chidi150c/perpbacktest/warmup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Window is the caller-requested [start, end] data window, before
// warmup extension.
type Window struct {
	Start time.Time
	End   time.Time
}

// StopClassification names why a run ended, mirrored into result.json.
type StopClassification string

const (
	StopNone            StopClassification = ""
	StopLiquidated      StopClassification = "liquidated"
	StopMaxDrawdownHit  StopClassification = "max_drawdown_hit"
	StopAborted         StopClassification = "aborted"
	StopEndOfData       StopClassification = "end_of_data"
)

// Result is what Run returns on success (including a halted run — a
// halt is a terminal state, not a Go error).
type Result struct {
	RunDir             string
	Manifest           artifact.Manifest
	Summary            stats.Summary
	StoppedEarly        bool
	StopClassification  StopClassification
	WarmupBars          map[warmup.Role]int
	Trades              []*fill.Trade

	// LedgerHash is the SHA-256 of the closed trade ledger (see
	// fill.LedgerHash), used by the determinism harness to assert two
	// runs of the same (play, window, provider seed) are byte-identical.
	LedgerHash string
}

// loadRoleSpecs groups a strategy's declared lookbacks by role.
func loadRoleSpecs(specs []warmup.LookbackSpec) map[warmup.Role][]feature.KeyLookback {
	out := map[warmup.Role][]feature.KeyLookback{}
	for _, s := range specs {
		out[s.Role] = append(out[s.Role], feature.KeyLookback{Key: feature.Key(s.Key), Lookback: s.Lookback})
	}
	return out
}

// resolveWarmup runs the warmup resolver (C4) against a strategy's
// declared lookbacks and a Play's role-to-TF map.
func resolveWarmup(strat strategy.Strategy, pl play.Play, loadStart time.Time) (warmup.Result, error) {
	return warmup.Resolve(strat.Lookbacks(), warmup.RoleTFMap(pl.RoleTF), loadStart)
}

// fetchSeries loads the OHLCV series needed for every role TF plus the
// 1m quote series used for intrabar simulation, over [start, end].
func fetchSeries(ctx context.Context, prov provider.Provider, symbol string, tfs []tf.Timeframe, start, end time.Time) (map[tf.Timeframe][]provider.Bar, []provider.Bar, []provider.FundingRecord, error) {
	out := map[tf.Timeframe][]provider.Bar{}
	for _, t := range tfs {
		s, err := prov.GetOHLCV(ctx, symbol, t, start, end)
		if err != nil {
			return nil, nil, nil, err
		}
		out[t] = s.Bars
	}
	quotesSeries, err := prov.Get1mQuotes(ctx, symbol, start, end)
	if err != nil {
		return nil, nil, nil, err
	}
	funding, err := prov.GetFunding(ctx, symbol, start, end)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, quotesSeries.Bars, funding, nil
}

func requiredTFs(pl play.Play) []tf.Timeframe {
	seen := map[tf.Timeframe]bool{}
	var out []tf.Timeframe
	for _, t := range pl.RoleTF {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Preflight computes the extended load window from the strategy's
// declared warmup and runs the data health gate over it. It performs no
// auto-repair; that is a caller (tool-layer) concern.
func Preflight(ctx context.Context, pl play.Play, strat strategy.Strategy, window Window, prov provider.Provider) (health.Report, warmup.Result, error) {
	if err := pl.Validate(); err != nil {
		return health.Report{}, warmup.Result{}, err
	}
	wres, err := resolveWarmup(strat, pl, window.Start)
	if err != nil {
		return health.Report{}, warmup.Result{}, err
	}

	tfs := requiredTFs(pl)
	ohlcv, _, funding, err := fetchSeries(ctx, prov, pl.Symbol, tfs, wres.LoadStartPrime, window.End)
	if err != nil {
		return health.Report{}, wres, err
	}

	check := health.NewCheck(wres.LoadStartPrime, window.End, tfs, pl.Symbol)
	report := check.Run(ohlcv, funding)
	if !report.Passed {
		return report, wres, errs.New(errs.KindPreflightFailed, "data health gate failed").
			WithHint(fmt.Sprintf("%d coverage issue(s), %d gap(s), %d sanity issue(s)", len(report.CoverageIssues), len(report.Gaps), len(report.SanityIssues)))
	}
	return report, wres, nil
}

// should_abort is a caller-owned cancellation flag, checked once per
// exec bar.
type AbortFunc func() bool

// runState holds the engine's exclusively-owned mutable state for one run.
type runState struct {
	equity         float64
	startingEquity float64
	usedMargin     float64
	open           *fill.Trade
	drawdown       risk.DrawdownTracker
	equityRows     []artifact.EquityRow
	trades         []*fill.Trade
	tradeSeq       int

	// fundingShadow independently accumulates the same per-trade funding
	// payment fill.ApplyFunding folds into the open trade's FundingPnL.
	// The two are compared at every close: the trade row is authoritative
	// (see DESIGN.md's open-question decision), and a divergence beyond
	// tolerance is an InternalInvariantViolated, not a silent pick.
	fundingShadow float64
}

func (rs *runState) nextTradeID() string {
	rs.tradeSeq++
	return fmt.Sprintf("t-%06d", rs.tradeSeq)
}

// Run executes Init->Preflight->Warmup->Running->(Closed|Halted) for one
// Play against one data window and writes every artifact before
// returning, on every exit path including an abort. metrics is optional
// (nil disables Prometheus exposition entirely); a caller that wants
// metrics builds one with stats.NewRegistry and registers it with its own
// prometheus.Registerer before passing it in.
func Run(ctx context.Context, pl play.Play, strat strategy.Strategy, window Window, prov provider.Provider, outDir, runID string, abort AbortFunc, metrics *stats.Registry) (*Result, error) {
	healthReport, wres, err := Preflight(ctx, pl, strat, window, prov)
	if err != nil {
		return nil, err
	}

	tfs := requiredTFs(pl)
	ohlcv, quotes, funding, err := fetchSeries(ctx, prov, pl.Symbol, tfs, wres.LoadStartPrime, window.End)
	if err != nil {
		return nil, err
	}

	startedAt := window.Start
	w, err := artifact.Open(outDir, runID, startedAt)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	configHash, err := pl.ConfigHash()
	if err != nil {
		return nil, err
	}
	tfMapping := map[string]string{}
	for role, t := range pl.RoleTF {
		tfMapping[string(role)] = string(t)
	}
	healthReportJSON, err := json.Marshal(healthReport)
	if err != nil {
		return nil, errs.WithCause(errs.KindWriteFailed, "failed to marshal health report", err)
	}
	if err := w.WriteManifest(artifact.Manifest{
		RunID:                runID,
		ConfigHash:           configHash,
		Symbol:               pl.Symbol,
		DataWindowStart:      window.Start,
		DataWindowEnd:        window.End,
		TFMapping:            tfMapping,
		HealthReportJSON:     healthReportJSON,
		FundingPnLAuthority:  artifact.FundingAuthorityTradeRow,
	}); err != nil {
		return nil, err
	}
	w.LogEvent("log_started", startedAt, map[string]any{"run_id": runID, "symbol": pl.Symbol})

	roleSpecs := loadRoleSpecs(strat.Lookbacks())
	builder := feature.NewBuilder(pl.Symbol, []warmup.Role{warmup.RoleExec, warmup.RoleMTF, warmup.RoleHTF})
	for role, specs := range roleSpecs {
		rs, err := feature.SetupRole(role, specs)
		if err != nil {
			return nil, err
		}
		builder.Roles[role] = rs
	}

	execTF := pl.ExecTF()
	execBars := ohlcv[execTF]

	rstate := &runState{equity: pl.StartingEquityUSDT, startingEquity: pl.StartingEquityUSDT}
	gate := risk.NewGate(0.005, pl.Risk.MaxDrawdownPct)
	sizer := sizing.New(pl.SizingConfig())
	feeModel := fill.FeeModel{TakerRate: pl.Fees.TakerBps / 10000.0}

	logger := log.With().Str("run_id", runID).Str("symbol", pl.Symbol).Logger()

	stop := StopNone
	var haltErr error

	// Warmup: feed bars from LoadStartPrime up to window.Start into every
	// role's feature state without calling the strategy.
	warmupBars := map[warmup.Role]int{}
	for role, t := range pl.RoleTF {
		rs := builder.RoleOf(role)
		for _, b := range ohlcv[t] {
			if !b.TsClose.After(window.Start) {
				rs.Advance(b)
				warmupBars[role]++
			}
		}
	}

	barIdx := 0
	for _, bar := range execBars {
		if bar.TsClose.Before(window.Start) {
			barIdx++
			continue
		}
		if abort != nil && abort() {
			stop = StopAborted
			haltErr = errs.New(errs.KindAborted, "run aborted by caller")
			break
		}

		// Refresh HTF/MTF roles whose own TF closed on or before this
		// exec close; exec role always advances on its own bar.
		for role, t := range pl.RoleTF {
			if role == warmup.RoleExec {
				continue
			}
			rs := builder.RoleOf(role)
			for _, b := range ohlcv[t] {
				if b.TsClose.After(rs.LastTsClose()) && !b.TsClose.After(bar.TsClose) {
					rs.Advance(b)
				}
			}
		}
		builder.RoleOf(warmup.RoleExec).Advance(bar)

		exch := feature.ExchangeState{PositionSide: "none", Equity: rstate.equity, UsedMargin: rstate.usedMargin}
		if rstate.open != nil {
			side := "long"
			if rstate.open.Direction == sizing.DirShort {
				side = "short"
			}
			exch = feature.ExchangeState{
				PositionSide:  side,
				PositionSize:  rstate.open.EntrySizeBase,
				EntryPrice:    rstate.open.EntryPrice,
				TakeProfit:    floatPtr(rstate.open.TakeProfit),
				StopLoss:      floatPtr(rstate.open.StopLoss),
				UnrealizedPnL: fill.UnrealizedPnL(rstate.open, bar.Close),
				Equity:        rstate.equity,
				UsedMargin:    rstate.usedMargin,
			}
		}

		snap, snapErr := builder.Assemble(bar, exch, []warmup.Role{warmup.RoleExec})
		snapshotReady := snapErr == nil

		barQuotes := provider.SliceWindow(quotes, bar.TsOpen, bar.TsClose)

		// Intrabar pass: liquidation/SL/TP precedence, funding accrual,
		// mark-to-market.
		if rstate.open != nil {
			liq := sizing.LiqPrice(rstate.open.EntryPrice, pl.MaxLeverage, 0.005, rstate.open.Direction)
			outcome := fill.IntrabarPass(barQuotes, rstate.open.Direction, liq, rstate.open.StopLoss, rstate.open.TakeProfit, pl.SlippageBps)
			applyFunding(rstate, funding, bar, w)
			if outcome.Triggered {
				fill.Close(rstate.open, outcome.AtQuote.TsClose, barIdx, outcome.ExitPrice, outcome.Reason, feeModel)
				if err := closeTrade(rstate, w, logger, metrics); err != nil {
					return nil, err
				}
				rstate.equity = fill.Equity(rstate.startingEquity, sumRealized(rstate.trades), sumFees(rstate.trades), 0, sumFunding(rstate.trades))
				if outcome.Reason == fill.ExitLiquidated {
					stop = StopLiquidated
				}
			} else {
				unreal := fill.UnrealizedPnL(rstate.open, bar.Close)
				rstate.equity = fill.Equity(rstate.startingEquity, sumRealized(rstate.trades), sumFees(rstate.trades)+rstate.open.FeesPaid, unreal, sumFunding(rstate.trades)+rstate.open.FundingPnL)
			}
		} else {
			rstate.equity = fill.Equity(rstate.startingEquity, sumRealized(rstate.trades), sumFees(rstate.trades), 0, sumFunding(rstate.trades))
		}

		rstate.drawdown.Observe(rstate.equity)
		if stop == StopNone && gate.Breached(&rstate.drawdown, rstate.equity) {
			if rstate.open != nil {
				fill.Close(rstate.open, bar.TsClose, barIdx, bar.Close, fill.ExitMaxDrawdownHit, feeModel)
				if err := closeTrade(rstate, w, logger, metrics); err != nil {
					return nil, err
				}
				rstate.equity = fill.Equity(rstate.startingEquity, sumRealized(rstate.trades), sumFees(rstate.trades), 0, sumFunding(rstate.trades))
			}
			stop = StopMaxDrawdownHit
		}

		recordEquity(rstate, bar.TsClose, w, metrics)

		if stop != StopNone {
			break
		}

		if snapshotReady && rstate.open == nil {
			sig, err := strat.Evaluate(snap, pl.StrategyParams)
			if err != nil {
				return nil, err
			}
			if sig != nil {
				openPosition(rstate, sig, bar, barIdx, pl, sizer, gate, feeModel, w, logger)
			}
		}

		barIdx++
	}

	if stop == StopNone {
		if rstate.open != nil {
			last := execBars[len(execBars)-1]
			fill.Close(rstate.open, last.TsClose, barIdx, last.Close, fill.ExitEndOfData, feeModel)
			if err := closeTrade(rstate, w, logger, metrics); err != nil {
				return nil, err
			}
			rstate.equity = fill.Equity(rstate.startingEquity, sumRealized(rstate.trades), sumFees(rstate.trades), 0, sumFunding(rstate.trades))
			recordEquity(rstate, last.TsClose, w, metrics)
		}
		stop = StopEndOfData
	}

	execMinutes, _ := tf.Step(execTF)
	summary := stats.Compute(rstate.trades, rstate.equityRows, stats.BarsPerYear(execMinutes.Minutes()))

	if err := w.WriteTrades(rstate.trades); err != nil {
		return nil, err
	}
	if err := w.WriteEquity(rstate.equityRows); err != nil {
		return nil, err
	}

	result := buildResultJSON(runID, pl, summary, stop, wres, window)
	if err := w.WriteResult(result); err != nil {
		return nil, err
	}

	r := &Result{
		RunDir:             w.Dir(),
		Summary:            summary,
		StoppedEarly:       stop != StopEndOfData,
		StopClassification: stop,
		WarmupBars:         warmupBars,
		Trades:             rstate.trades,
		LedgerHash:         fill.LedgerHash(rstate.trades),
	}
	if haltErr != nil && stop == StopAborted {
		return r, haltErr
	}
	return r, nil
}

func floatPtr(f float64) *float64 { return &f }

// fundingAuthorityTolerance bounds how far the trade row's FundingPnL may
// drift from the independently-accumulated shadow sum before it is
// treated as an invariant violation rather than float noise.
const fundingAuthorityTolerance = 0.01

func applyFunding(rs *runState, funding []provider.FundingRecord, bar provider.Bar, w *artifact.Writer) {
	t := rs.open
	for _, f := range funding {
		if f.Ts.After(bar.TsOpen) && !f.Ts.After(bar.TsClose) {
			fill.ApplyFunding(t, f.Rate)
			side := 1.0
			if t.Direction == sizing.DirShort {
				side = -1.0
			}
			rs.fundingShadow += -side * t.EntrySizeUSDT * f.Rate
			w.LogEvent("funding", f.Ts, map[string]any{"trade_id": t.ID, "rate": f.Rate})
		}
	}
}

func closeTrade(rs *runState, w *artifact.Writer, logger zerolog.Logger, metrics *stats.Registry) error {
	diff := rs.open.FundingPnL - rs.fundingShadow
	if diff < 0 {
		diff = -diff
	}
	if diff > fundingAuthorityTolerance {
		return errs.Newf(errs.KindInternalInvariantViolate,
			"trade %s funding_pnl=%.6f diverges from independently accumulated %.6f",
			rs.open.ID, rs.open.FundingPnL, rs.fundingShadow)
	}
	rs.fundingShadow = 0

	rs.trades = append(rs.trades, rs.open)
	w.LogEvent("trade_exit", rs.open.ExitTs, map[string]any{
		"trade_id": rs.open.ID, "exit_reason": string(rs.open.ExitReason), "net_pnl": rs.open.NetPnL,
	})
	logger.Info().Str("trade_id", rs.open.ID).Str("exit_reason", string(rs.open.ExitReason)).Float64("net_pnl", rs.open.NetPnL).Msg("trade closed")
	side := "long"
	if rs.open.Direction == sizing.DirShort {
		side = "short"
	}
	metrics.ObserveTradeClosed(side, string(rs.open.ExitReason))
	rs.open = nil
	rs.usedMargin = 0
	return nil
}

func recordEquity(rs *runState, ts time.Time, w *artifact.Writer, metrics *stats.Registry) {
	rs.drawdown.Observe(rs.equity)
	ddPct := rs.drawdown.DrawdownPct(rs.equity)
	peak := rs.equity
	if ddPct > 0 {
		peak = rs.equity / (1 - ddPct/100.0)
	}
	ddAbs := peak - rs.equity
	row := artifact.EquityRow{Ts: ts, Equity: rs.equity, DrawdownAbs: ddAbs, DrawdownPct: ddPct}
	rs.equityRows = append(rs.equityRows, row)
	w.LogEvent("step", ts, map[string]any{"equity": rs.equity, "drawdown_pct": ddPct})
	metrics.ObserveEquity(rs.equity, ddPct)
}

func sumRealized(trades []*fill.Trade) float64 {
	sum := 0.0
	for _, t := range trades {
		sum += t.RealizedPnL
	}
	return sum
}

func sumFees(trades []*fill.Trade) float64 {
	sum := 0.0
	for _, t := range trades {
		sum += t.FeesPaid
	}
	return sum
}

func sumFunding(trades []*fill.Trade) float64 {
	sum := 0.0
	for _, t := range trades {
		sum += t.FundingPnL
	}
	return sum
}

func openPosition(rs *runState, sig *strategy.Signal, bar provider.Bar, barIdx int, pl play.Play, sizer *sizing.Sizer, gate risk.Gate, feeModel fill.FeeModel, w *artifact.Writer, logger zerolog.Logger) {
	dir := sizing.DirLong
	if sig.Direction == strategy.Short {
		dir = sizing.DirShort
	}
	fillPrice := fill.EntryFill(bar.Close, dir, pl.SlippageBps)

	sizeRes := sizer.SizeOrderWithLiqCheck(rs.equity, fillPrice, sig.StopLoss, sig.SizeHintUSDT, rs.usedMargin, dir)
	if sizeRes.Rejected {
		w.LogEvent("entries_disabled", bar.TsClose, map[string]any{"reason": string(sizeRes.Reason)})
		return
	}
	if sizeRes.SizeUSDT <= 0 {
		return
	}

	var sl, tp float64
	if pl.Risk.StopLossPct != nil && pl.Risk.TakeProfitPct != nil {
		sl, tp = fill.SLTP(bar.Close, *pl.Risk.StopLossPct, *pl.Risk.TakeProfitPct, pl.MaxLeverage, dir)
	}
	if sig.StopLoss != nil {
		sl = *sig.StopLoss
	}
	if sig.TakeProfit != nil {
		tp = *sig.TakeProfit
	}

	if err := gate.PreTradeCheck(fillPrice, pl.MaxLeverage, pl.Risk.MinLiqDistancePct, dir); err != nil {
		w.LogEvent("entries_disabled", bar.TsClose, map[string]any{"reason": "liquidation_too_close"})
		return
	}

	t := fill.OpenEntry(rs.nextTradeID(), pl.Symbol, dir, bar.TsClose, barIdx, fillPrice, sizeRes.SizeUSDT, feeModel, sl, tp)
	rs.open = t
	rs.usedMargin = sizeRes.SizeUSDT / pl.MaxLeverage
	w.LogEvent("trade_entry", bar.TsClose, map[string]any{"trade_id": t.ID, "size_usdt": t.EntrySizeUSDT, "entry_price": t.EntryPrice})
	logger.Info().Str("trade_id", t.ID).Float64("size_usdt", t.EntrySizeUSDT).Msg("trade opened")
}

func buildResultJSON(runID string, pl play.Play, s stats.Summary, stop StopClassification, wres warmup.Result, window Window) map[string]any {
	return map[string]any{
		"run_id":                    runID,
		"symbol":                    pl.Symbol,
		"strategy_id":               pl.StrategyID,
		"strategy_version":          pl.StrategyVersion,
		"trades_count":              s.TradesCount,
		"winning_trades":            s.WinningTrades,
		"losing_trades":             s.LosingTrades,
		"long_trades":               s.LongTrades,
		"short_trades":              s.ShortTrades,
		"net_pnl_usdt":              s.NetPnLUSDT,
		"gross_profit_usdt":         s.GrossProfitUSDT,
		"gross_loss_usdt":           s.GrossLossUSDT,
		"total_fees_usdt":           s.TotalFeesUSDT,
		"expectancy_usdt":           s.ExpectancyUSDT,
		"win_rate":                  s.WinRate,
		"profit_factor":             s.ProfitFactor,
		"payoff_ratio":              s.PayoffRatio,
		"largest_win_usdt":          s.LargestWinUSDT,
		"largest_loss_usdt":         s.LargestLossUSDT,
		"max_consecutive_wins":      s.MaxConsecutiveWins,
		"max_consecutive_losses":    s.MaxConsecutiveLosses,
		"max_drawdown_usdt":         s.MaxDrawdownUSDT,
		"max_drawdown_pct":          s.MaxDrawdownPct,
		"sharpe":                    s.Sharpe,
		"sortino":                   s.Sortino,
		"calmar":                    s.Calmar,
		"recovery_factor":           s.RecoveryFactor,
		"avg_trade_duration_bars":   s.AvgTradeDurationBars,
		"stopped_early":             stop != StopEndOfData,
		"stop_classification":       string(stop),
		"warmup_bars":               wres.WarmupBars,
		"data_window_requested_start": window.Start,
		"data_window_requested_end":   window.End,
		"data_window_loaded_start":    wres.LoadStartPrime,
		"data_window_loaded_end":      window.End,
		"simulation_start_ts":         window.Start,
	}
}
