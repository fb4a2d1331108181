package backtest

import (
	"github.com/shopspring/decimal"

	"as-backtester/pkg/types"
)

// MetricsSink is the concrete Sink (§4.G): a pure consumer of per-snapshot
// rows that tracks running summary statistics. Max drawdown is computed
// with a running peak rather than a buffered series, so the drawdown state
// stays O(1) regardless of run length. The full row history is retained
// only when the sink is constructed with keepRows (see NewMetricsSink).
type MetricsSink struct {
	rows []types.MetricRow

	havePnL     bool
	peakPnL     decimal.Decimal
	maxDrawdown decimal.Decimal

	warmupRows int

	summary types.RunSummary
	done    bool
}

// NewMetricsSink constructs an empty sink. If keepRows is true, emitted
// rows are retained for inspection (e.g. by a dashboard or a test); set it
// to false for long runs where only the summary matters.
func NewMetricsSink(keepRows bool) *MetricsSink {
	s := &MetricsSink{}
	if keepRows {
		s.rows = make([]types.MetricRow, 0)
	}
	return s
}

// Emit records one per-snapshot row and updates running drawdown state.
func (s *MetricsSink) Emit(row types.MetricRow) {
	if s.rows != nil {
		s.rows = append(s.rows, row)
	}
	if row.Warmup {
		s.warmupRows++
	}

	if !s.havePnL {
		s.peakPnL = row.PnL
		s.havePnL = true
	} else if row.PnL.GreaterThan(s.peakPnL) {
		s.peakPnL = row.PnL
	}
	drawdown := s.peakPnL.Sub(row.PnL)
	if drawdown.GreaterThan(s.maxDrawdown) {
		s.maxDrawdown = drawdown
	}
}

// Finish merges the engine's terminal counters with this sink's own
// drawdown tracking to produce the final RunSummary.
func (s *MetricsSink) Finish(partial types.RunSummary) {
	partial.MaxDrawdown = s.maxDrawdown
	s.summary = partial
	s.done = true
}

// Summary returns the final RunSummary. Valid only after Finish has run.
func (s *MetricsSink) Summary() types.RunSummary {
	return s.summary
}

// Done reports whether Finish has been called.
func (s *MetricsSink) Done() bool {
	return s.done
}

// Rows returns the retained row history, if any (see NewMetricsSink).
func (s *MetricsSink) Rows() []types.MetricRow {
	return s.rows
}
