// Prometheus exposition for a run's live progress: equity, trade counts,
// and exit-reason breakdowns. The core never starts an HTTP server or
// registers against the global default registry itself — a caller
// supplies a prometheus.Registerer and owns whatever serves /metrics.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the run-level collectors, renamed from the teacher's
// bot_equity_usd/bot_trades_total/bot_exit_reasons_total into the
// perpetual-backtest domain.
type Registry struct {
	Equity      prometheus.Gauge
	Drawdown    prometheus.Gauge
	Trades      *prometheus.CounterVec
	ExitReasons *prometheus.CounterVec
}

// NewRegistry builds a fresh set of collectors labeled with run_id so
// multiple concurrent runs registered into the same Registerer don't
// collide on metric identity.
func NewRegistry(runID string) *Registry {
	constLabels := prometheus.Labels{"run_id": runID}
	return &Registry{
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "backtest_equity_usdt",
			Help:        "Current account equity in USDT.",
			ConstLabels: constLabels,
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "backtest_drawdown_pct",
			Help:        "Current drawdown from peak equity, percent.",
			ConstLabels: constLabels,
		}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "backtest_trades_total",
			Help:        "Trades closed, split by side.",
			ConstLabels: constLabels,
		}, []string{"side"}),
		ExitReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "backtest_exit_reasons_total",
			Help:        "Trades closed, split by exit reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}
}

// Register adds every collector to reg. Callers that don't want metrics
// exposed simply never call this.
func (r *Registry) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.Equity, r.Drawdown, r.Trades, r.ExitReasons} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveEquity updates the equity/drawdown gauges at a bar close.
func (r *Registry) ObserveEquity(equity, drawdownPct float64) {
	if r == nil {
		return
	}
	r.Equity.Set(equity)
	r.Drawdown.Set(drawdownPct)
}

// ObserveTradeClosed increments the trade/exit-reason counters.
func (r *Registry) ObserveTradeClosed(side, exitReason string) {
	if r == nil {
		return
	}
	r.Trades.WithLabelValues(side).Inc()
	r.ExitReasons.WithLabelValues(exitReason).Inc()
}
