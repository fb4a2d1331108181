package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"as-backtester/pkg/types"
)

type fakeSnapshotIter struct {
	data []types.OrderbookSnapshot
	pos  int
}

func (it *fakeSnapshotIter) Next(ctx context.Context) (types.OrderbookSnapshot, bool, error) {
	if it.pos >= len(it.data) {
		return types.OrderbookSnapshot{}, false, nil
	}
	v := it.data[it.pos]
	it.pos++
	return v, true, nil
}
func (it *fakeSnapshotIter) Close() error { return nil }

type fakeTradeIter struct {
	data []types.Trade
	pos  int
}

func (it *fakeTradeIter) Next(ctx context.Context) (types.Trade, bool, error) {
	if it.pos >= len(it.data) {
		return types.Trade{}, false, nil
	}
	v := it.data[it.pos]
	it.pos++
	return v, true, nil
}
func (it *fakeTradeIter) Close() error { return nil }

func snap(ts int64) types.OrderbookSnapshot {
	return types.OrderbookSnapshot{
		TsMs: ts,
		Bids: []types.PriceLevel{{Price: decimal.NewFromInt(99), Qty: decimal.NewFromInt(1)}},
		Asks: []types.PriceLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)}},
	}
}

func trade(ts int64) types.Trade {
	return types.Trade{TsMs: ts, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}
}

func TestMergeOrdersByTimestamp(t *testing.T) {
	t.Parallel()
	snaps := &fakeSnapshotIter{data: []types.OrderbookSnapshot{snap(10), snap(30)}}
	trades := &fakeTradeIter{data: []types.Trade{trade(20), trade(40)}}

	s := Merge(snaps, trades, nil)
	ctx := context.Background()

	var got []int64
	for {
		ev, ok, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, ev.TsMs())
	}

	want := []int64{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] ts = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMergeTradeWinsTieBreak(t *testing.T) {
	t.Parallel()
	snaps := &fakeSnapshotIter{data: []types.OrderbookSnapshot{snap(10)}}
	trades := &fakeTradeIter{data: []types.Trade{trade(10)}}

	s := Merge(snaps, trades, nil)
	ev, ok, err := s.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", ev, ok, err)
	}
	if ev.Kind != types.EventTrade {
		t.Errorf("first event kind = %v, want EventTrade (trades break ties)", ev.Kind)
	}
}

func TestMergeDetectsOutOfOrder(t *testing.T) {
	t.Parallel()
	snaps := &fakeSnapshotIter{data: []types.OrderbookSnapshot{snap(30), snap(10)}}
	trades := &fakeTradeIter{data: nil}

	s := Merge(snaps, trades, nil)
	ctx := context.Background()

	if _, _, err := s.Next(ctx); err != nil {
		t.Fatalf("first Next() unexpected error: %v", err)
	}
	_, _, err := s.Next(ctx)
	if err == nil {
		t.Fatal("expected input order violation, got nil error")
	}
	if !errors.Is(err, ErrInputOrderViolation) {
		t.Errorf("error = %v, want ErrInputOrderViolation", err)
	}
}

func TestMergeEmptyInputsYieldNoEvents(t *testing.T) {
	t.Parallel()
	s := Merge(&fakeSnapshotIter{}, &fakeTradeIter{}, nil)
	_, ok, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if ok {
		t.Error("expected ok=false on empty inputs")
	}
}
