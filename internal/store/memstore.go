package store

import (
	"context"

	"as-backtester/pkg/types"
)

// MemStore is an in-memory HistoricalStore backed by pre-sorted slices.
// Used by unit/integration tests and small example runs; it satisfies the
// same lazy Next() contract as SQLiteStore even though the data already
// lives in memory, so callers can't tell the two apart.
type MemStore struct {
	snapshots map[string][]types.OrderbookSnapshot
	trades    map[string][]types.Trade
}

// NewMemStore creates an empty in-memory store. Use Seed to load fixtures.
func NewMemStore() *MemStore {
	return &MemStore{
		snapshots: make(map[string][]types.OrderbookSnapshot),
		trades:    make(map[string][]types.Trade),
	}
}

// Seed installs the snapshot and trade history for a market. Both slices
// must already be sorted by TsMs ascending; Seed does not sort them, to
// keep the store a pure fixture loader.
func (m *MemStore) Seed(market string, snapshots []types.OrderbookSnapshot, trades []types.Trade) {
	m.snapshots[market] = snapshots
	m.trades[market] = trades
}

func (m *MemStore) Snapshots(ctx context.Context, market string) (SnapshotIterator, error) {
	return &memSnapshotIter{data: m.snapshots[market]}, nil
}

func (m *MemStore) Trades(ctx context.Context, market string) (TradeIterator, error) {
	return &memTradeIter{data: m.trades[market]}, nil
}

type memSnapshotIter struct {
	data []types.OrderbookSnapshot
	pos  int
}

func (it *memSnapshotIter) Next(ctx context.Context) (types.OrderbookSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderbookSnapshot{}, false, err
	}
	if it.pos >= len(it.data) {
		return types.OrderbookSnapshot{}, false, nil
	}
	v := it.data[it.pos]
	it.pos++
	return v, true, nil
}

func (it *memSnapshotIter) Close() error { return nil }

type memTradeIter struct {
	data []types.Trade
	pos  int
}

func (it *memTradeIter) Next(ctx context.Context) (types.Trade, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Trade{}, false, err
	}
	if it.pos >= len(it.data) {
		return types.Trade{}, false, nil
	}
	v := it.data[it.pos]
	it.pos++
	return v, true, nil
}

func (it *memTradeIter) Close() error { return nil }
