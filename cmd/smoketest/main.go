// Command smoketest drives one full engine run end to end against the
// synthetic provider: build a Play, resolve warmup, run the event loop,
// and optionally re-verify the written artifacts with the audit package.
// It exists to exercise every component (C1-C14) from one entrypoint the
// way the teacher's own main.go exercised its live-trading stack with a
// -backtest flag, minus the broker/env-file wiring that has no place in
// a deterministic backtest core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chidi150c/perpbacktest/artifact"
	"github.com/chidi150c/perpbacktest/audit"
	"github.com/chidi150c/perpbacktest/engine"
	"github.com/chidi150c/perpbacktest/play"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/chidi150c/perpbacktest/stats"
	"github.com/chidi150c/perpbacktest/strategy/emacross"
	"github.com/chidi150c/perpbacktest/synthetic"
	"github.com/chidi150c/perpbacktest/tf"
	"github.com/chidi150c/perpbacktest/warmup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	var (
		bars      = flag.Int("bars", 4000, "bars of the coarsest TF (1h) to generate; the backtest window spans this many minutes")
		seed      = flag.Int64("seed", 42, "synthetic data RNG seed")
		pattern   = flag.String("pattern", string(synthetic.PatternTrendingUp), "trending_up|trending_down|choppy|volatile")
		outDir    = flag.String("out", "./smoketest-runs", "artifact output root")
		symbol    = flag.String("symbol", "BTCUSDT", "trading symbol")
		fastEMA   = flag.Int("fast-ema", 8, "fast EMA lookback")
		slowEMA   = flag.Int("slow-ema", 21, "slow EMA lookback")
		verify    = flag.Bool("verify", true, "re-verify the written artifacts after the run")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	spec := synthetic.Spec{
		Symbol:     *symbol,
		TFs:        []tf.Timeframe{tf.M1, tf.M15, tf.H1},
		BarsPerTF:  *bars,
		Seed:       *seed,
		Pattern:    synthetic.Pattern(*pattern),
		StartPrice: 30000,
		StartTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	candles, err := synthetic.Generate(spec)
	if err != nil {
		logger.Fatal().Err(err).Msg("synthetic data generation failed")
	}
	prov := synthetic.NewProvider(candles)

	strat := emacross.New(*fastEMA, *slowEMA)

	maxDD := 20.0
	slPct := 2.0
	tpPct := 4.0
	pl := play.Play{
		ID:     "smoketest-ema-cross",
		Symbol: *symbol,
		RoleTF: warmup.RoleTFMap{
			warmup.RoleExec: tf.M15,
			warmup.RoleMTF:  tf.H1,
		},
		StrategyID:         strat.ID(),
		StrategyVersion:    strat.Version(),
		StrategyParams:     map[string]float64{},
		StartingEquityUSDT: 10000,
		Fees:               play.FeeModel{TakerBps: 5.5, MakerBps: 2.0},
		SlippageBps:        2,
		MaxLeverage:        5,
		FundingEnabled:     true,
		Risk: play.RiskPolicy{
			SizingModel:          sizing.ModelPercentEquity,
			RiskPerTradePct:      1.0,
			StopLossPct:          &slPct,
			TakeProfitPct:        &tpPct,
			MaxDrawdownPct:       &maxDD,
			MinLiqDistancePct:    0.5,
			MaxPositionEquityPct: 50,
		},
		Position: play.PositionPolicy{MaxPositionsPerSymbol: 1},
	}
	if err := pl.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid play")
	}

	window := engine.Window{
		Start: spec.StartTime.Add(48 * time.Hour),
		End:   spec.StartTime.Add(time.Duration(*bars) * time.Minute),
	}

	runID := artifact.NewRunID()
	metrics := stats.NewRegistry(runID)
	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	result, err := engine.Run(context.Background(), pl, strat, window, prov, *outDir, runID, nil, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("run failed")
	}

	fmt.Printf("run_id=%s run_dir=%s stop=%s trades=%d net_pnl=%.2f sharpe=%.2f\n",
		runID, result.RunDir, result.StopClassification, result.Summary.TradesCount, result.Summary.NetPnLUSDT, result.Summary.Sharpe)

	if *verify {
		report, err := verifyRun(result.RunDir, pl)
		if err != nil {
			logger.Fatal().Err(err).Msg("verify failed")
		}
		if !report.Passed {
			logger.Error().Int("findings", len(report.Findings)).Msg("verification found issues")
			for _, f := range report.Findings {
				fmt.Printf("  [%s] trade=%s %s\n", f.Rule, f.TradeID, f.Detail)
			}
			os.Exit(1)
		}
		fmt.Println("verify: passed")
	}
}

// verifyRun re-derives correctness from runDir's own artifacts, the
// disk-based counterpart to the in-process Verify* checks the engine
// could have run against its own in-memory state. ourMajorVersion is
// pinned to artifact.ArtifactVersion's major component; a real tool
// would parse that constant once rather than hardcode it here, but this
// command has nothing else pinning an artifact_version it needs to track.
func verifyRun(runDir string, pl play.Play) (*audit.Report, error) {
	const ourArtifactMajorVersion = 1
	return audit.Verify(runDir, pl.Fees.TakerBps/10000.0, ourArtifactMajorVersion)
}
