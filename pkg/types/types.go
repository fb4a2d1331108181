// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the backtester — orderbook
// snapshots, trades, derived exposure, calibrated parameters, quotes, and
// backtest state. It has no dependencies on internal packages, so it can be
// imported by any layer.
//
// All monetary and price quantities are shopspring/decimal.Decimal, exact
// fixed-scale decimals. Numerically sensitive math (volatility, intensity
// MLE, reservation price, half-spreads) is performed in float64 elsewhere
// and converted back to decimal only for the final, rounded values — see
// internal/quote.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Orderbook and trades
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in an orderbook snapshot.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderbookSnapshot is a point-in-time view of one market's orderbook.
// Levels are sorted best-first on each side; L <= max_depth_levels.
// Invariant: best bid < best ask, and prices are strictly monotone moving
// away from the best level on each side.
type OrderbookSnapshot struct {
	TsMs int64
	Seq  int64
	Bids []PriceLevel // descending by price, best bid first
	Asks []PriceLevel // ascending by price, best ask first
}

// BestBid returns the best (highest) bid level, or false if the book has no bids.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the best (lowest) ask level, or false if the book has no asks.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Mid returns (best_bid + best_ask) / 2, or false if either side is empty.
func (s OrderbookSnapshot) Mid() (decimal.Decimal, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// WorstBid returns the deepest visible bid level (last element of Bids).
func (s OrderbookSnapshot) WorstBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[len(s.Bids)-1], true
}

// WorstAsk returns the deepest visible ask level (last element of Asks).
func (s OrderbookSnapshot) WorstAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[len(s.Asks)-1], true
}

// Side represents the direction of a trade or quote: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Trade is a single public trade print.
// IsBuyerMaker == true means an aggressive sell hit a resting bid;
// false means an aggressive buy lifted a resting ask.
type Trade struct {
	TsMs         int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
}

// FillSide returns Sell when the trade would lift our ask (aggressor buy),
// and Buy when it would hit our bid (aggressor sell). This matches how
// internal/calibrate and internal/backtest classify trades by the
// resting side they executed against, not by the aggressor's own side.
func (t Trade) FillSide() Side {
	if t.IsBuyerMaker {
		return Buy // aggressive sell hit a resting bid -> we'd be buying
	}
	return Sell // aggressive buy lifted a resting ask -> we'd be selling
}

// ExposurePoint is derived per snapshot: the visible price-distance-from-mid
// band on each side, and how long that band was visible for (duration_ms,
// the gap to the next snapshot). Used by the intensity estimator (§4.C) to
// build the (time x price) exposure area for the truncated-exponential MLE.
type ExposurePoint struct {
	TsMs         int64
	Mid          decimal.Decimal
	BidDeltaMin  float64 // mid - best_bid
	BidDeltaMax  float64 // mid - worst visible bid level
	AskDeltaMin  float64 // best_ask - mid
	AskDeltaMax  float64 // worst visible ask level - mid
	DurationSecs float64 // gap to the next snapshot, in seconds
}

// ————————————————————————————————————————————————————————————————————————
// Calibration
// ————————————————————————————————————————————————————————————————————————

// CalibratedParams holds the rolling estimate of volatility and per-side
// fill-intensity parameters. Unfit is true when the estimator could not
// produce a valid fit (e.g. insufficient data); callers must fall back to
// quote-model defaults and mark resulting quotes provisional.
type CalibratedParams struct {
	Sigma      float64 // std dev of mid log-returns, per sqrt(second)
	ABid       float64 // per-second units
	KappaBid   float64 // per-price units
	AAsk       float64
	KappaAsk   float64
	LastFitTs  int64
	Unfit      bool
}

// DefaultUnfitParams returns the sentinel "unfit" parameters the quote model
// falls back to, per spec §4.E: kappa = 10.0, A = 1.0 on both sides.
func DefaultUnfitParams() CalibratedParams {
	return CalibratedParams{
		ABid:     1.0,
		KappaBid: 10.0,
		AAsk:     1.0,
		KappaAsk: 10.0,
		Unfit:    true,
	}
}

// GammaMode selects how the quote model resolves effective risk aversion.
type GammaMode string

const (
	GammaConstant        GammaMode = "constant"
	GammaInventoryScaled GammaMode = "inventory_scaled"
	GammaMaxShift        GammaMode = "max_shift"
)

// ————————————————————————————————————————————————————————————————————————
// Quotes
// ————————————————————————————————————————————————————————————————————————

// Quote is the bid/ask pair produced by the quote model for one snapshot.
// Invariants: Bid < Ask, Ask - Bid >= configured min spread, both are
// rounded to tick size. Provisional quotes are computed with default/unfit
// parameters and are excluded from fill simulation.
type Quote struct {
	TsMs          int64
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	Reservation   decimal.Decimal
	BidHalfSpread decimal.Decimal
	AskHalfSpread decimal.Decimal
	ValidUntilMs  int64
	Provisional   bool
}

// ————————————————————————————————————————————————————————————————————————
// Backtest state
// ————————————————————————————————————————————————————————————————————————

// BacktestState is exclusively owned by the backtest engine: created once,
// mutated only by fill application, summarized at termination.
type BacktestState struct {
	Cash           decimal.Decimal
	Inventory      decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	LastBidFillTs  int64
	LastAskFillTs  int64
	BidFills       int
	AskFills       int
	Volume         decimal.Decimal
	RealizedPnL    decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Event stream
// ————————————————————————————————————————————————————————————————————————

// EventKind distinguishes the two variants of Event.
type EventKind int

const (
	EventSnapshot EventKind = iota
	EventTrade
)

// Event is the sum type yielded by the merged historical stream (§4.A):
// either an OrderbookSnapshot or a Trade, in non-decreasing ts_ms order.
type Event struct {
	Kind     EventKind
	Snapshot OrderbookSnapshot
	Trade    Trade
}

// TsMs returns the event's timestamp regardless of kind.
func (e Event) TsMs() int64 {
	if e.Kind == EventSnapshot {
		return e.Snapshot.TsMs
	}
	return e.Trade.TsMs
}

// ————————————————————————————————————————————————————————————————————————
// Per-event metric row (§4.F emit / §4.G sink)
// ————————————————————————————————————————————————————————————————————————

// MetricRow is emitted once per processed snapshot.
type MetricRow struct {
	TsMs        int64
	Mid         decimal.Decimal
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	Reservation decimal.Decimal
	Inventory   decimal.Decimal
	Cash        decimal.Decimal
	PnL         decimal.Decimal
	Sigma       float64
	KappaBid    float64
	KappaAsk    float64
	BidFills    int
	AskFills    int
	Volume      decimal.Decimal
	Warmup      bool
}

// RunSummary is the single summary record produced at the end of a run.
type RunSummary struct {
	TotalBidFills    int
	TotalAskFills    int
	TotalVolume      decimal.Decimal
	RealizedPnL      decimal.Decimal
	FinalPnL         decimal.Decimal
	ReturnPct        float64
	MaxDrawdown      decimal.Decimal
	WarmupWindows    int
	EventsProcessed  int
	InitialCash      decimal.Decimal
	FinalCash        decimal.Decimal
	FinalInventory   decimal.Decimal
	StartTsMs        int64
	EndTsMs          int64
}

// Timestamp converts a millisecond epoch into a time.Time (UTC), used only
// for logging/display — all core comparisons stay in int64 milliseconds.
func Timestamp(tsMs int64) time.Time {
	return time.UnixMilli(tsMs).UTC()
}
