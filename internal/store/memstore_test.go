package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"as-backtester/pkg/types"
)

func TestMemStoreSnapshotsStreamInOrder(t *testing.T) {
	t.Parallel()
	m := NewMemStore()
	snaps := []types.OrderbookSnapshot{
		{TsMs: 0, Bids: []types.PriceLevel{{Price: decimal.NewFromInt(99), Qty: decimal.NewFromInt(1)}}},
		{TsMs: 1000, Bids: []types.PriceLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}}},
	}
	m.Seed("BTC-PERP", snaps, nil)

	it, err := m.Snapshots(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("Snapshots() error: %v", err)
	}
	defer it.Close()

	var got []int64
	for {
		snap, ok, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, snap.TsMs)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1000 {
		t.Errorf("got %v, want [0, 1000]", got)
	}
}

func TestMemStoreUnknownMarketYieldsEmpty(t *testing.T) {
	t.Parallel()
	m := NewMemStore()
	it, err := m.Trades(context.Background(), "NO-SUCH-MARKET")
	if err != nil {
		t.Fatalf("Trades() error: %v", err)
	}
	_, ok, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if ok {
		t.Error("expected no trades for an unseeded market")
	}
}

func TestMemStoreNextRespectsCancellation(t *testing.T) {
	t.Parallel()
	m := NewMemStore()
	m.Seed("BTC-PERP", []types.OrderbookSnapshot{{TsMs: 0}}, nil)
	it, _ := m.Snapshots(context.Background(), "BTC-PERP")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := it.Next(ctx)
	if err == nil {
		t.Error("expected an error from a cancelled context")
	}
}
