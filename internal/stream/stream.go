// Package stream merges a market's snapshot and trade histories into a
// single chronologically ordered Event sequence (spec §4.A), the sole input
// the rest of the backtest core consumes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"as-backtester/internal/store"
	"as-backtester/pkg/types"
)

// ErrInputOrderViolation is returned when the underlying store yields
// events that are not non-decreasing in ts_ms. This is fatal: it indicates
// corrupt or mis-sorted fixture data, not a recoverable runtime condition.
var ErrInputOrderViolation = errors.New("stream: input order violation")

// Stream merges one SnapshotIterator and one TradeIterator into a single
// Event sequence ordered by ts_ms ascending. At equal ts_ms, trades are
// emitted before snapshots: a trade at time t reflects liquidity consumed
// up to and including t, so it must be visible before the snapshot at the
// same instant is used to compute the next quote.
type Stream struct {
	snapshots store.SnapshotIterator
	trades    store.TradeIterator
	logger    *slog.Logger

	pendingSnapshot *types.OrderbookSnapshot
	pendingTrade    *types.Trade

	snapshotsDone bool
	tradesDone    bool

	lastTsMs int64
	started  bool
}

// Merge constructs a Stream from a market's two iterators. logger reports
// source exhaustion at Debug; nil is accepted and silently skips logging.
func Merge(snapshots store.SnapshotIterator, trades store.TradeIterator, logger *slog.Logger) *Stream {
	return &Stream{snapshots: snapshots, trades: trades, logger: logger}
}

// Next returns the next Event in non-decreasing ts_ms order. It returns
// (zero, false, nil) once both underlying iterators are exhausted, and
// (zero, false, err) on any read failure or order violation.
func (s *Stream) Next(ctx context.Context) (types.Event, bool, error) {
	if err := s.fill(ctx); err != nil {
		return types.Event{}, false, err
	}

	if s.pendingSnapshot == nil && s.pendingTrade == nil {
		return types.Event{}, false, nil
	}

	var ev types.Event
	switch {
	case s.pendingSnapshot == nil:
		ev = types.Event{Kind: types.EventTrade, Trade: *s.pendingTrade}
		s.pendingTrade = nil
	case s.pendingTrade == nil:
		ev = types.Event{Kind: types.EventSnapshot, Snapshot: *s.pendingSnapshot}
		s.pendingSnapshot = nil
	case s.pendingTrade.TsMs <= s.pendingSnapshot.TsMs:
		// Trade wins ties (<=), per the emission-order invariant above.
		ev = types.Event{Kind: types.EventTrade, Trade: *s.pendingTrade}
		s.pendingTrade = nil
	default:
		ev = types.Event{Kind: types.EventSnapshot, Snapshot: *s.pendingSnapshot}
		s.pendingSnapshot = nil
	}

	ts := ev.TsMs()
	if s.started && ts < s.lastTsMs {
		return types.Event{}, false, fmt.Errorf("%w: ts_ms %d after %d", ErrInputOrderViolation, ts, s.lastTsMs)
	}
	s.started = true
	s.lastTsMs = ts

	return ev, true, nil
}

// Close closes both underlying iterators, returning the first error.
func (s *Stream) Close() error {
	err1 := s.snapshots.Close()
	err2 := s.trades.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// fill tops off the one-element lookahead buffer on each side so Next can
// compare the next candidate from both sources.
func (s *Stream) fill(ctx context.Context) error {
	if s.pendingSnapshot == nil && !s.snapshotsDone {
		snap, ok, err := s.snapshots.Next(ctx)
		if err != nil {
			return err
		}
		if ok {
			s.pendingSnapshot = &snap
		} else {
			s.snapshotsDone = true
			s.logf("snapshot source exhausted", "last_ts_ms", s.lastTsMs)
		}
	}
	if s.pendingTrade == nil && !s.tradesDone {
		trade, ok, err := s.trades.Next(ctx)
		if err != nil {
			return err
		}
		if ok {
			s.pendingTrade = &trade
		} else {
			s.tradesDone = true
			s.logf("trade source exhausted", "last_ts_ms", s.lastTsMs)
		}
	}
	return nil
}

func (s *Stream) logf(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, args...)
}
