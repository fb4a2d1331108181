package observability

import "as-backtester/pkg/types"

// sinkTarget is the subset of backtest.Sink this package depends on,
// declared locally to avoid an import of internal/backtest (which would
// create a cycle if backtest ever needed observability directly).
type sinkTarget interface {
	Emit(types.MetricRow)
	Finish(types.RunSummary)
}

// ObservingSink wraps another Sink and mirrors every row/summary into the
// package's Prometheus metrics, so a running backtest can be scraped live
// via the dashboard's /metrics endpoint.
type ObservingSink struct {
	next sinkTarget

	lastBidFills, lastAskFills int
	lastWarmup                bool
}

// Wrap returns a Sink that updates Prometheus metrics and then forwards
// every call to next.
func Wrap(next sinkTarget) *ObservingSink {
	return &ObservingSink{next: next}
}

func (s *ObservingSink) Emit(row types.MetricRow) {
	IncEventsProcessed()
	if row.Warmup {
		IncWarmupWindow()
	}
	if row.BidFills > s.lastBidFills {
		IncFill("bid")
	}
	if row.AskFills > s.lastAskFills {
		IncFill("ask")
	}
	s.lastBidFills, s.lastAskFills = row.BidFills, row.AskFills

	invF, _ := row.Inventory.Float64()
	cashF, _ := row.Cash.Float64()
	pnlF, _ := row.PnL.Float64()
	SetInventory(invF)
	SetCash(cashF)
	SetPnL(pnlF)
	SetSigma(row.Sigma)
	SetKappa("bid", row.KappaBid)
	SetKappa("ask", row.KappaAsk)

	s.next.Emit(row)
}

func (s *ObservingSink) Finish(summary types.RunSummary) {
	s.next.Finish(summary)
}
