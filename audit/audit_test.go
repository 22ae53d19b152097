package audit_test

import (
	"testing"
	"time"

	"github.com/chidi150c/perpbacktest/artifact"
	"github.com/chidi150c/perpbacktest/audit"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consistentTrade() *fill.Trade {
	fees := fill.FeeModel{TakerRate: 0.00055}
	tr := fill.OpenEntry("t1", "BTCUSDT", sizing.DirLong, time.Unix(0, 0), 0, 100, 1000, fees, 98, 104)
	fill.Close(tr, time.Unix(900, 0), 15, 104, fill.ExitTakeProfit, fees)
	return tr
}

func TestVerifyTrade_PassesOnConsistentTrade(t *testing.T) {
	r := audit.New()
	audit.VerifyTrade(consistentTrade(), 0.00055, r)
	assert.True(t, r.Passed, "findings: %+v", r.Findings)
}

func TestVerifyTrade_FlagsRealizedPnLMismatch(t *testing.T) {
	tr := consistentTrade()
	tr.RealizedPnL = 999999
	r := audit.New()
	audit.VerifyTrade(tr, 0.00055, r)
	require.False(t, r.Passed)
	assert.Equal(t, "bybit_pnl_formula", r.Findings[0].Rule)
}

func TestVerifyTrade_FlagsNetPnLClosureMismatch(t *testing.T) {
	tr := consistentTrade()
	tr.NetPnL = tr.RealizedPnL - tr.FeesPaid + tr.FundingPnL + 50
	r := audit.New()
	audit.VerifyTrade(tr, 0.00055, r)
	require.False(t, r.Passed)
	assertHasRule(t, r, "net_pnl_closure")
}

func TestVerifyTrade_FlagsSLTPInversionForLong(t *testing.T) {
	tr := consistentTrade()
	tr.StopLoss, tr.TakeProfit = tr.TakeProfit, tr.StopLoss
	r := audit.New()
	audit.VerifyTrade(tr, 0.00055, r)
	require.False(t, r.Passed)
	assertHasRule(t, r, "tp_sl_consistency")
}

func TestVerifyPnLClosure_PassesWhenBalanced(t *testing.T) {
	trades := []*fill.Trade{consistentTrade()}
	netSum := trades[0].NetPnL
	r := audit.New()
	audit.VerifyPnLClosure(10000, 10000+netSum, trades, r)
	assert.True(t, r.Passed)
}

func TestVerifyPnLClosure_FlagsMismatch(t *testing.T) {
	trades := []*fill.Trade{consistentTrade()}
	r := audit.New()
	audit.VerifyPnLClosure(10000, 20000, trades, r)
	require.False(t, r.Passed)
	assertHasRule(t, r, "pnl_closure")
}

func TestVerifyNoOverlap_FlagsOverlappingTrades(t *testing.T) {
	fees := fill.FeeModel{TakerRate: 0}
	t1 := fill.OpenEntry("t1", "S", sizing.DirLong, time.Unix(0, 0), 0, 100, 1000, fees, 0, 0)
	fill.Close(t1, time.Unix(120, 0), 2, 100, fill.ExitSignal, fees)
	t2 := fill.OpenEntry("t2", "S", sizing.DirLong, time.Unix(60, 0), 1, 100, 1000, fees, 0, 0)
	fill.Close(t2, time.Unix(180, 0), 3, 100, fill.ExitSignal, fees)

	r := audit.New()
	audit.VerifyNoOverlap([]*fill.Trade{t1, t2}, r)
	require.False(t, r.Passed)
	assertHasRule(t, r, "no_overlap")
}

func TestVerifyEquityCurve_FlagsNegativeEquity(t *testing.T) {
	r := audit.New()
	audit.VerifyEquityCurve([]float64{100, 50, -5}, r)
	require.False(t, r.Passed)
	assertHasRule(t, r, "equity_nonnegative")
}

func TestVerify_RoundTripsWrittenArtifacts(t *testing.T) {
	root := t.TempDir()
	w, err := artifact.Open(root, "run-audit-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, w.WriteManifest(artifact.Manifest{
		RunID:               "run-audit-1",
		Symbol:              "BTCUSDT",
		FundingPnLAuthority: artifact.FundingAuthorityTradeRow,
	}))

	tr := consistentTrade()
	require.NoError(t, w.WriteTrades([]*fill.Trade{tr}))

	equityRows := []artifact.EquityRow{
		{Ts: time.Unix(0, 0), Equity: 10000},
		{Ts: time.Unix(900, 0), Equity: 10000 + tr.NetPnL},
	}
	require.NoError(t, w.WriteEquity(equityRows))
	require.NoError(t, w.WriteResult(map[string]float64{"net_pnl_usdt": tr.NetPnL}))
	require.NoError(t, w.Close())

	report, err := audit.Verify(w.Dir(), 0.00055, 1)
	require.NoError(t, err)
	assert.True(t, report.Passed, "findings: %+v", report.Findings)
}

func TestVerify_RefusesNewerMajorArtifactVersion(t *testing.T) {
	root := t.TempDir()
	w, err := artifact.Open(root, "run-audit-2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, w.WriteManifest(artifact.Manifest{RunID: "run-audit-2"}))
	require.NoError(t, w.WriteTrades(nil))
	require.NoError(t, w.WriteEquity(nil))
	require.NoError(t, w.WriteResult(map[string]float64{"net_pnl_usdt": 0}))
	require.NoError(t, w.Close())

	_, err = audit.Verify(w.Dir(), 0.00055, 0)
	require.Error(t, err)
}

func assertHasRule(t *testing.T, r *audit.Report, rule string) {
	t.Helper()
	for _, f := range r.Findings {
		if f.Rule == rule {
			return
		}
	}
	t.Fatalf("expected a finding with rule %q, got %+v", rule, r.Findings)
}
