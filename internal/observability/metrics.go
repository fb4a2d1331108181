// Package observability exposes Prometheus metrics for a running backtest:
//   - backtest_events_processed_total        – snapshot events processed (one per emitted row; trades are not counted)
//   - backtest_fills_total{side}              – fills simulated (bid|ask)
//   - backtest_warmup_windows_total           – snapshots processed while in Warmup
//   - backtest_recalibrations_total           – calibrator fires
//   - backtest_fits_unfit_total{side}         – per-side intensity fits that fell back to Unfit
//   - backtest_constraint_skips_total{reason} – fill attempts skipped by a §7 ConstraintViolation
//   - backtest_numeric_domain_total           – §7 NumericDomain clamps/fallbacks
//   - backtest_inventory                      – current signed inventory (gauge)
//   - backtest_cash_usd                       – current cash balance (gauge)
//   - backtest_pnl_usd                        – current mark-to-market PnL (gauge)
//   - backtest_sigma                          – last published volatility estimate (gauge)
//   - backtest_kappa{side}                    – last published per-side intensity decay (gauge)
//
// Registered in init() and served by the dashboard's /metrics endpoint
// (internal/api).
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_events_processed_total",
		Help: "Total snapshot events processed (one per emitted metric row; trades are not counted).",
	})

	fills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_fills_total",
		Help: "Simulated fills, by side.",
	}, []string{"side"})

	warmupWindows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_warmup_windows_total",
		Help: "Snapshots processed while the engine was in Warmup.",
	})

	recalibrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_recalibrations_total",
		Help: "Number of times the calibrator published new parameters.",
	})

	fitsUnfit = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_fits_unfit_total",
		Help: "Per-side intensity fits that fell back to Unfit.",
	}, []string{"side"})

	constraintSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_constraint_skips_total",
		Help: "Fill attempts skipped by a constraint (cooldown, inventory cap, insufficient cash).",
	}, []string{"reason"})

	numericDomain = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_numeric_domain_total",
		Help: "Numeric-domain clamps and degenerate-input fallbacks encountered.",
	})

	inventory = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_inventory",
		Help: "Current signed inventory.",
	})

	cash = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_cash_usd",
		Help: "Current cash balance.",
	})

	pnl = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_pnl_usd",
		Help: "Current mark-to-market PnL.",
	})

	sigma = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_sigma",
		Help: "Last published volatility estimate.",
	})

	kappa = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backtest_kappa",
		Help: "Last published per-side fill-intensity decay rate.",
	}, []string{"side"})
)

func init() {
	prometheus.MustRegister(eventsProcessed, fills, warmupWindows, recalibrations)
	prometheus.MustRegister(fitsUnfit, constraintSkips, numericDomain)
	prometheus.MustRegister(inventory, cash, pnl, sigma, kappa)
}

func IncEventsProcessed()             { eventsProcessed.Inc() }
func IncFill(side string)             { fills.WithLabelValues(side).Inc() }
func IncWarmupWindow()                { warmupWindows.Inc() }
func IncRecalibration()               { recalibrations.Inc() }
func IncFitUnfit(side string)         { fitsUnfit.WithLabelValues(side).Inc() }
func IncConstraintSkip(reason string) { constraintSkips.WithLabelValues(reason).Inc() }
func IncNumericDomain()               { numericDomain.Inc() }

func SetInventory(v float64) { inventory.Set(v) }
func SetCash(v float64)      { cash.Set(v) }
func SetPnL(v float64)       { pnl.Set(v) }
func SetSigma(v float64)     { sigma.Set(v) }
func SetKappa(side string, v float64) { kappa.WithLabelValues(side).Set(v) }
