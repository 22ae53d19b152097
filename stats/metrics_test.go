package stats_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/stats"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAddsAllCollectors(t *testing.T) {
	r := stats.NewRegistry("run-1")
	reg := prometheus.NewRegistry()
	require.NoError(t, r.Register(reg))
	// Labeled vectors only gather once they have a child series.
	r.ObserveTradeClosed("long", "tp")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestRegistry_ObserveEquitySetsGauges(t *testing.T) {
	r := stats.NewRegistry("run-2")
	r.ObserveEquity(10500, 3.2)

	assert.InDelta(t, 10500.0, readGauge(r.Equity), 1e-9)
	assert.InDelta(t, 3.2, readGauge(r.Drawdown), 1e-9)
}

func TestRegistry_ObserveTradeClosedIncrementsCounters(t *testing.T) {
	r := stats.NewRegistry("run-3")
	r.ObserveTradeClosed("long", "tp")
	r.ObserveTradeClosed("long", "sl")

	assert.InDelta(t, 2.0, readCounter(r.Trades.WithLabelValues("long")), 1e-9)
	assert.InDelta(t, 1.0, readCounter(r.ExitReasons.WithLabelValues("tp")), 1e-9)
}

func TestRegistry_NilReceiverObserveIsNoOp(t *testing.T) {
	var r *stats.Registry
	assert.NotPanics(t, func() {
		r.ObserveEquity(100, 1)
		r.ObserveTradeClosed("long", "tp")
	})
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
