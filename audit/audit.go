// Package audit implements the math-audit verifier: the independent
// recomputation of per-trade PnL/fees/TP-SL consistency from a run's own
// artifacts, and the cross-check of summary metrics back against
// result.json. This is the contract test for the whole engine.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/sizing"
)

// AbsTol/RelTol are the tolerance constants used throughout the verifier:
// a monetary comparison passes if it is within AbsTol USDT or within
// RelTol of the larger magnitude, whichever is looser.
const (
	AbsTol = 0.01
	RelTol = 0.005
)

func closeEnough(a, b float64) bool {
	diff := math.Abs(a - b)
	tol := math.Max(AbsTol, RelTol*math.Max(math.Abs(a), math.Abs(b)))
	return diff <= tol
}

// Finding is one verification failure.
type Finding struct {
	TradeID string
	Rule    string
	Detail  string
}

// Report is the full verification outcome.
type Report struct {
	Passed   bool
	Findings []Finding
}

func (r *Report) fail(tradeID, rule, detail string) {
	r.Passed = false
	r.Findings = append(r.Findings, Finding{TradeID: tradeID, Rule: rule, Detail: detail})
}

// VerifyTrade independently recomputes a single trade's PnL/fee
// relationships and reports any mismatch against the stored fields.
func VerifyTrade(t *fill.Trade, takerRate float64, r *Report) {
	side := 1.0
	if t.Direction == sizing.DirShort {
		side = -1.0
	}
	expectedRealized := side * t.EntrySizeBase * (t.ExitPrice - t.EntryPrice)
	if !closeEnough(expectedRealized, t.RealizedPnL) {
		r.fail(t.ID, "bybit_pnl_formula", fmt.Sprintf("expected realized_pnl=%.6f, got %.6f", expectedRealized, t.RealizedPnL))
	}

	expectedNet := t.RealizedPnL - t.FeesPaid + t.FundingPnL
	if !closeEnough(expectedNet, t.NetPnL) {
		r.fail(t.ID, "net_pnl_closure", fmt.Sprintf("expected net_pnl=%.6f, got %.6f", expectedNet, t.NetPnL))
	}

	entryNotional := t.EntrySizeUSDT
	exitNotional := t.EntrySizeBase * t.ExitPrice
	feeLow := takerRate * (entryNotional + exitNotional) * 0.5
	feeHigh := takerRate * (entryNotional + exitNotional) * 2.0
	if t.FeesPaid < feeLow || t.FeesPaid > feeHigh {
		r.fail(t.ID, "fee_bounds", fmt.Sprintf("fees_paid=%.6f outside [%.6f, %.6f]", t.FeesPaid, feeLow, feeHigh))
	}

	if sign(expectedRealized) != sign(t.RealizedPnL) && expectedRealized != 0 && t.RealizedPnL != 0 {
		r.fail(t.ID, "pnl_sign", "realized_pnl sign does not match direction/price delta")
	}

	verifySLTPConsistency(t, r)
}

func sign(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}

// verifySLTPConsistency checks that a single signal_close exists which
// back-derives both the recorded SL and TP via the signal-close formula.
// Since leverage is not stored per-trade here, this checks the weaker
// but still meaningful property that SL and TP sit on the correct sides
// of one another for the trade's direction.
func verifySLTPConsistency(t *fill.Trade, r *Report) {
	if t.Direction == sizing.DirLong {
		if !(t.StopLoss < t.TakeProfit) {
			r.fail(t.ID, "tp_sl_consistency", "expected stop_loss < take_profit for a long")
		}
	} else {
		if !(t.TakeProfit < t.StopLoss) {
			r.fail(t.ID, "tp_sl_consistency", "expected take_profit < stop_loss for a short")
		}
	}
}

// VerifyPnLClosure checks final_equity == starting_equity + sum(net_pnl).
func VerifyPnLClosure(startingEquity, finalEquity float64, trades []*fill.Trade, r *Report) {
	sum := 0.0
	for _, t := range trades {
		sum += t.NetPnL
	}
	expected := startingEquity + sum
	if !closeEnough(expected, finalEquity) {
		r.fail("", "pnl_closure", fmt.Sprintf("expected final_equity=%.6f, got %.6f", expected, finalEquity))
	}
}

// VerifyNoOverlap checks that consecutive trades (sorted by entry_ts) do
// not overlap, required when max_positions_per_symbol == 1.
func VerifyNoOverlap(trades []*fill.Trade, r *Report) {
	for i := 1; i < len(trades); i++ {
		if trades[i].EntryTs.Before(trades[i-1].ExitTs) {
			r.fail(trades[i].ID, "no_overlap", "entry_ts precedes previous trade's exit_ts")
		}
	}
}

// VerifyEquityCurve checks that no value in the equity curve is
// negative.
func VerifyEquityCurve(equity []float64, r *Report) {
	for i, e := range equity {
		if e < 0 {
			r.fail("", "equity_nonnegative", fmt.Sprintf("equity[%d]=%.6f is negative", i, e))
		}
	}
}

// New returns a fresh, passing Report; callers accumulate findings into
// it via the Verify* functions and inspect Passed at the end.
func New() *Report { return &Report{Passed: true} }

// manifestView is the subset of run_manifest.json the disk verifier
// needs; it does not need the full artifact.Manifest shape (and
// importing artifact here would be an unnecessary coupling for a
// package meant to re-check a run's output independently).
type manifestView struct {
	ArtifactVersion     string `json:"artifact_version"`
	FundingPnLAuthority string `json:"funding_pnl_authority"`
}

// resultView is the subset of result.json this verifier cross-checks
// equity against. result.json carries no starting_equity_usdt field, so
// Verify derives starting equity as the final equity row minus
// net_pnl_usdt; VerifyPnLClosure then checks that the ledger's net_pnl
// sum agrees with result.json's net_pnl_usdt.
type resultView struct {
	NetPnLUSDT float64 `json:"net_pnl_usdt"`
}

// Verify re-derives a completed run's correctness entirely from its own
// written artifacts in runDir: run_manifest.json, trades.csv,
// equity.csv, and result.json. ourMajorVersion is this verifier's own
// artifact_version major number; per the artifact-versioning policy a
// manifest whose major version is ahead of the verifier's is refused
// outright rather than partially checked. takerRate is the play's
// configured taker fee fraction, needed for the per-trade fee-bounds
// check; it is not itself part of the manifest, so the caller (which
// holds the Play that produced the run) supplies it.
func Verify(runDir string, takerRate float64, ourMajorVersion int) (*Report, error) {
	mf, err := readManifest(runDir)
	if err != nil {
		return nil, err
	}
	if major, err := semverMajor(mf.ArtifactVersion); err != nil {
		return nil, errs.WithCause(errs.KindSchemaMismatch, "unparseable artifact_version", err)
	} else if major > ourMajorVersion {
		return nil, errs.Newf(errs.KindVersionMismatch,
			"run_manifest.json artifact_version %s is ahead of this verifier's major version %d", mf.ArtifactVersion, ourMajorVersion)
	}

	trades, err := readTrades(runDir)
	if err != nil {
		return nil, err
	}
	equity, err := readEquity(runDir)
	if err != nil {
		return nil, err
	}
	res, err := readResult(runDir)
	if err != nil {
		return nil, err
	}

	r := New()
	for _, t := range trades {
		VerifyTrade(t, takerRate, r)
	}
	VerifyNoOverlap(trades, r)
	VerifyEquityCurve(equity, r)

	if len(equity) > 0 {
		finalEquity := equity[len(equity)-1]
		startingEquity := finalEquity - res.NetPnLUSDT
		VerifyPnLClosure(startingEquity, finalEquity, trades, r)
	}

	return r, nil
}

func readManifest(runDir string) (manifestView, error) {
	b, err := os.ReadFile(filepath.Join(runDir, "run_manifest.json"))
	if err != nil {
		return manifestView{}, errs.WithCause(errs.KindNotFound, "failed to read run_manifest.json", err)
	}
	var mv manifestView
	if err := json.Unmarshal(b, &mv); err != nil {
		return manifestView{}, errs.WithCause(errs.KindSchemaMismatch, "failed to parse run_manifest.json", err)
	}
	return mv, nil
}

func readResult(runDir string) (resultView, error) {
	b, err := os.ReadFile(filepath.Join(runDir, "result.json"))
	if err != nil {
		return resultView{}, errs.WithCause(errs.KindNotFound, "failed to read result.json", err)
	}
	var rv resultView
	if err := json.Unmarshal(b, &rv); err != nil {
		return resultView{}, errs.WithCause(errs.KindSchemaMismatch, "failed to parse result.json", err)
	}
	return rv, nil
}

func readTrades(runDir string) ([]*fill.Trade, error) {
	f, err := os.Open(filepath.Join(runDir, "trades.csv"))
	if err != nil {
		return nil, errs.WithCause(errs.KindNotFound, "failed to open trades.csv", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errs.WithCause(errs.KindSchemaMismatch, "failed to parse trades.csv", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	trades := make([]*fill.Trade, 0, len(rows)-1)
	for _, row := range rows[1:] {
		t, err := parseTradeRow(row)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// trades.csv column order, fixed by artifact.Writer.WriteTrades.
const (
	colID = iota
	colSymbol
	colSide
	colEntryTs
	colEntryBarIdx
	colEntryPrice
	colEntrySizeUSDT
	colEntrySizeBase
	colExitTs
	colExitBarIdx
	colExitPrice
	colExitReason
	colRealizedPnL
	colFundingPnL
	colFeesPaid
	colNetPnL
	colStopLoss
	colTakeProfit
)

func parseTradeRow(row []string) (*fill.Trade, error) {
	dir := sizing.DirLong
	if row[colSide] == "short" {
		dir = sizing.DirShort
	}
	entryTs, err := time.Parse(time.RFC3339, row[colEntryTs])
	if err != nil {
		return nil, errs.WithCause(errs.KindSchemaMismatch, "bad entry_ts in trades.csv", err)
	}
	exitTs, err := time.Parse(time.RFC3339, row[colExitTs])
	if err != nil {
		return nil, errs.WithCause(errs.KindSchemaMismatch, "bad exit_ts in trades.csv", err)
	}
	entryBarIdx, _ := strconv.Atoi(row[colEntryBarIdx])
	exitBarIdx, _ := strconv.Atoi(row[colExitBarIdx])
	return &fill.Trade{
		ID:            row[colID],
		Symbol:        row[colSymbol],
		Direction:     dir,
		EntryTs:       entryTs,
		EntryBarIdx:   entryBarIdx,
		EntryPrice:    atof(row[colEntryPrice]),
		EntrySizeUSDT: atof(row[colEntrySizeUSDT]),
		EntrySizeBase: atof(row[colEntrySizeBase]),
		ExitTs:        exitTs,
		ExitBarIdx:    exitBarIdx,
		ExitPrice:     atof(row[colExitPrice]),
		ExitReason:    fill.ExitReason(row[colExitReason]),
		RealizedPnL:   atof(row[colRealizedPnL]),
		FundingPnL:    atof(row[colFundingPnL]),
		FeesPaid:      atof(row[colFeesPaid]),
		NetPnL:        atof(row[colNetPnL]),
		StopLoss:      atof(row[colStopLoss]),
		TakeProfit:    atof(row[colTakeProfit]),
	}, nil
}

func readEquity(runDir string) ([]float64, error) {
	f, err := os.Open(filepath.Join(runDir, "equity.csv"))
	if err != nil {
		return nil, errs.WithCause(errs.KindNotFound, "failed to open equity.csv", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errs.WithCause(errs.KindSchemaMismatch, "failed to parse equity.csv", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, atof(row[1]))
	}
	return out, nil
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// semverMajor extracts the leading major component of a semver string
// ("1.0.0" -> 1); malformed input is an error, not a silent zero.
func semverMajor(v string) (int, error) {
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return strconv.Atoi(v[:i])
		}
	}
	return strconv.Atoi(v)
}
