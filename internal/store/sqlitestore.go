package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"as-backtester/pkg/types"
)

// SQLiteStore reads fixture market data from a SQLite database with two
// tables:
//
//	orderbook_snapshots(market TEXT, ts_ms INTEGER, seq INTEGER, bids TEXT, asks TEXT)
//	trades(market TEXT, ts_ms INTEGER, price TEXT, quantity TEXT, is_buyer_maker INTEGER)
//
// bids/asks are JSON arrays of [price, qty] pairs, stored as text so each
// level keeps exact decimal string precision. Rows are streamed with
// rows.Next() rather than loaded into a slice, so a multi-gigabyte fixture
// never sits fully in memory.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (read-only) the SQLite file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Snapshots(ctx context.Context, market string) (SnapshotIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, seq, bids, asks FROM orderbook_snapshots WHERE market = ? ORDER BY ts_ms ASC, seq ASC`,
		market,
	)
	if err != nil {
		return nil, &ErrStoreError{Market: market, Err: err}
	}
	return &sqliteSnapshotIter{rows: rows, market: market}, nil
}

func (s *SQLiteStore) Trades(ctx context.Context, market string) (TradeIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, price, quantity, is_buyer_maker FROM trades WHERE market = ? ORDER BY ts_ms ASC`,
		market,
	)
	if err != nil {
		return nil, &ErrStoreError{Market: market, Err: err}
	}
	return &sqliteTradeIter{rows: rows, market: market}, nil
}

type sqliteSnapshotIter struct {
	rows   *sql.Rows
	market string
}

func (it *sqliteSnapshotIter) Next(ctx context.Context) (types.OrderbookSnapshot, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return types.OrderbookSnapshot{}, false, &ErrStoreError{Market: it.market, Err: err}
		}
		return types.OrderbookSnapshot{}, false, nil
	}

	var (
		tsMs, seq  int64
		bidsJSON   string
		asksJSON   string
	)
	if err := it.rows.Scan(&tsMs, &seq, &bidsJSON, &asksJSON); err != nil {
		return types.OrderbookSnapshot{}, false, &ErrStoreError{Market: it.market, Err: err}
	}

	bids, err := decodeLevels(bidsJSON)
	if err != nil {
		return types.OrderbookSnapshot{}, false, &ErrStoreError{Market: it.market, Err: fmt.Errorf("decode bids: %w", err)}
	}
	asks, err := decodeLevels(asksJSON)
	if err != nil {
		return types.OrderbookSnapshot{}, false, &ErrStoreError{Market: it.market, Err: fmt.Errorf("decode asks: %w", err)}
	}

	return types.OrderbookSnapshot{TsMs: tsMs, Seq: seq, Bids: bids, Asks: asks}, true, nil
}

func (it *sqliteSnapshotIter) Close() error { return it.rows.Close() }

type sqliteTradeIter struct {
	rows   *sql.Rows
	market string
}

func (it *sqliteTradeIter) Next(ctx context.Context) (types.Trade, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return types.Trade{}, false, &ErrStoreError{Market: it.market, Err: err}
		}
		return types.Trade{}, false, nil
	}

	var (
		tsMs         int64
		priceStr     string
		qtyStr       string
		isBuyerMaker int64
	)
	if err := it.rows.Scan(&tsMs, &priceStr, &qtyStr, &isBuyerMaker); err != nil {
		return types.Trade{}, false, &ErrStoreError{Market: it.market, Err: err}
	}

	price, qty, err := decodePriceQty(priceStr, qtyStr)
	if err != nil {
		return types.Trade{}, false, &ErrStoreError{Market: it.market, Err: err}
	}

	return types.Trade{
		TsMs:         tsMs,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: isBuyerMaker != 0,
	}, true, nil
}

func (it *sqliteTradeIter) Close() error { return it.rows.Close() }
