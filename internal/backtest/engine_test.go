package backtest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"as-backtester/internal/calibrate"
	"as-backtester/internal/quote"
	"as-backtester/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func bookSnapshot(tsMs int64, bid, ask float64) types.OrderbookSnapshot {
	return types.OrderbookSnapshot{
		TsMs: tsMs,
		Bids: []types.PriceLevel{{Price: dec(bid), Qty: dec(10)}},
		Asks: []types.PriceLevel{{Price: dec(ask), Qty: dec(10)}},
	}
}

func testConfig() Config {
	return Config{
		GapThresholdSecs: 1800,
		WarmupPeriodSecs: 900,
		FillCooldownSecs: 30,
		MakerFeeBps:      1,
		TakerFeeBps:      4.5,
		InventoryMax:     1000,
		UnitSize:         1,
		InitialCash:      decimal.Zero,
		Quote: quote.Params{
			Gamma:                0.1,
			GammaMode:            types.GammaConstant,
			InventoryHorizonSecs: 3600,
			TickSize:             dec(0.01),
			MinSpreadBps:         1,
			MaxSpreadBps:         10000,
			MakerFeeBps:          1,
			InventoryMax:         1000,
			QuoteValiditySecs:    5,
		},
	}
}

func newTestEngine(cfg Config) (*Engine, *MetricsSink) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cal := calibrate.New(3600, 60, 0, 0.001, 10, logger)
	sink := NewMetricsSink(true)
	e := New(cfg, cal, sink, logger)
	return e, sink
}

// TestSinglePerfectFill exercises S1: an aggressor buy lifts our ask,
// producing exactly one fill, then the position is closed at termination.
func TestSinglePerfectFill(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, sink := newTestEngine(cfg)

	snap := bookSnapshot(0, 99, 101)
	e.state = stateArmed
	e.lastSnapshot = &snap
	e.outstandingQuote = &types.Quote{Bid: dec(99), Ask: dec(101), ValidUntilMs: 5000}
	e.pendingTrades = []types.Trade{
		{TsMs: 1000, Price: dec(101), Quantity: dec(1), IsBuyerMaker: false},
	}

	e.simulateFills(snap, *e.outstandingQuote)

	if e.st.AskFills != 1 {
		t.Fatalf("AskFills = %d, want 1", e.st.AskFills)
	}
	if !e.st.Inventory.Equal(dec(-1)) {
		t.Fatalf("Inventory = %v, want -1", e.st.Inventory)
	}
	wantCash := dec(101).Mul(dec(1 - 0.0001))
	if diff := e.st.Cash.Sub(wantCash).Abs(); diff.GreaterThan(dec(1e-6)) {
		t.Fatalf("Cash = %v, want ~%v", e.st.Cash, wantCash)
	}

	e.lastSnapshot = &types.OrderbookSnapshot{
		TsMs: 2000,
		Bids: []types.PriceLevel{{Price: dec(99.99), Qty: dec(10)}},
		Asks: []types.PriceLevel{{Price: dec(100.01), Qty: dec(10)}},
	}
	e.terminate()

	summary := sink.Summary()
	if !summary.FinalInventory.IsZero() {
		t.Errorf("FinalInventory = %v, want 0", summary.FinalInventory)
	}
	if summary.FinalPnL.LessThanOrEqual(decimal.Zero) {
		t.Errorf("FinalPnL = %v, want positive", summary.FinalPnL)
	}
}

// TestCooldownHonored exercises S2: two aggressor-buy trades against the
// same ask, 10s apart, with a 30s cooldown — exactly one fill.
func TestCooldownHonored(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, _ := newTestEngine(cfg)

	snap := bookSnapshot(0, 99, 101)
	e.state = stateArmed
	e.lastSnapshot = &snap
	q := types.Quote{Bid: dec(99), Ask: dec(101), ValidUntilMs: 60000}
	e.outstandingQuote = &q
	// The trades fall in two separate snapshot intervals, so only the
	// cooldown (not the one-fill-per-side rule) can reject the second one.
	e.pendingTrades = []types.Trade{
		{TsMs: 1000, Price: dec(101), Quantity: dec(1), IsBuyerMaker: false},
	}
	e.simulateFills(snap, q)

	e.pendingTrades = []types.Trade{
		{TsMs: 11000, Price: dec(101), Quantity: dec(1), IsBuyerMaker: false},
	}
	e.simulateFills(snap, q)

	if e.st.AskFills != 1 {
		t.Fatalf("AskFills = %d, want 1 (second trade within cooldown)", e.st.AskFills)
	}
}

// TestGapTriggersWarmup exercises S3: a gap beyond gap_threshold_seconds
// forces a transition back to Warmup with no fills.
func TestGapTriggersWarmup(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, sink := newTestEngine(cfg)

	first := bookSnapshot(0, 99, 101)
	e.onSnapshot(first)
	if e.state != stateWarmup {
		t.Fatalf("state after first snapshot = %v, want warmup (below warmup_period_seconds)", e.state)
	}

	second := bookSnapshot(4000*1000, 99, 101) // 4000s later, gap_threshold=1800s
	e.onSnapshot(second)

	if e.state != stateWarmup {
		t.Errorf("state after gap = %v, want warmup", e.state)
	}
	if e.st.AskFills != 0 || e.st.BidFills != 0 {
		t.Errorf("fills after gap = (%d, %d), want (0, 0)", e.st.BidFills, e.st.AskFills)
	}
	rows := sink.Rows()
	for _, r := range rows {
		if !r.Warmup {
			t.Errorf("row at ts=%d Warmup=false, want true", r.TsMs)
		}
	}
}

// TestInventoryCapStopsBuys exercises S5: once inventory reaches
// inventory_max, no further buys are accepted.
func TestInventoryCapStopsBuys(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.InventoryMax = 1
	cfg.Quote.InventoryMax = 1
	cfg.InitialCash = dec(1000) // enough cash that only the inventory cap can block a buy
	e, _ := newTestEngine(cfg)

	snap := bookSnapshot(0, 99, 101)
	e.state = stateArmed
	e.lastSnapshot = &snap
	q := types.Quote{Bid: dec(99), Ask: dec(101), ValidUntilMs: 60000}
	e.outstandingQuote = &q
	e.pendingTrades = []types.Trade{
		{TsMs: 1000, Price: dec(99), Quantity: dec(1), IsBuyerMaker: true},
	}
	e.simulateFills(snap, q)
	if e.st.BidFills != 1 {
		t.Fatalf("BidFills = %d, want 1", e.st.BidFills)
	}
	if !e.st.Inventory.Equal(dec(1)) {
		t.Fatalf("Inventory = %v, want 1 (at cap)", e.st.Inventory)
	}

	// A second, later buy must be rejected: inventory is already at cap.
	e.pendingTrades = []types.Trade{
		{TsMs: 100000, Price: dec(99), Quantity: dec(1), IsBuyerMaker: true},
	}
	e.simulateFills(snap, q)
	if e.st.BidFills != 1 {
		t.Errorf("BidFills after cap reached = %d, want still 1", e.st.BidFills)
	}
}

// TestRealizedPnLAccruesOnRoundTrip exercises the invariant that once
// inventory returns to zero mid-run, RealizedPnL reflects the round trip
// rather than staying at zero until termination's liquidation branch.
func TestRealizedPnLAccruesOnRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MakerFeeBps = 0
	cfg.InitialCash = dec(1000) // enough cash for the buy leg
	e, _ := newTestEngine(cfg)

	snap := bookSnapshot(0, 99, 101)
	e.state = stateArmed
	e.lastSnapshot = &snap
	q := types.Quote{Bid: dec(99), Ask: dec(101), ValidUntilMs: 60000}
	e.outstandingQuote = &q

	// Buy one unit at 99, then sell it back at 101: a 2-per-unit round trip.
	e.pendingTrades = []types.Trade{
		{TsMs: 1000, Price: dec(99), Quantity: dec(1), IsBuyerMaker: true},
	}
	e.simulateFills(snap, q)
	if !e.st.Inventory.Equal(dec(1)) {
		t.Fatalf("Inventory after buy = %v, want 1", e.st.Inventory)
	}

	e.pendingTrades = []types.Trade{
		{TsMs: 2000 + int64(cfg.FillCooldownSecs*1000), Price: dec(101), Quantity: dec(1), IsBuyerMaker: false},
	}
	e.simulateFills(snap, q)

	if !e.st.Inventory.IsZero() {
		t.Fatalf("Inventory after round trip = %v, want 0", e.st.Inventory)
	}
	want := dec(2)
	if diff := e.st.RealizedPnL.Sub(want).Abs(); diff.GreaterThan(dec(1e-9)) {
		t.Errorf("RealizedPnL = %v, want %v", e.st.RealizedPnL, want)
	}
}

// TestAsymmetricKappaTightensAskSpread exercises S4 at the quote-model
// level: a higher kappa on the ask side produces a tighter ask half-spread.
func TestAsymmetricKappaTightensAskSpread(t *testing.T) {
	t.Parallel()
	params := quote.Params{
		Gamma:                0.1,
		GammaMode:            types.GammaConstant,
		InventoryHorizonSecs: 3600,
		TickSize:             dec(0.01),
		MinSpreadBps:         1,
		MaxSpreadBps:         10000,
		MakerFeeBps:          1,
		InventoryMax:         1000,
		QuoteValiditySecs:    5,
	}
	cp := types.CalibratedParams{Sigma: 0.5, ABid: 1, KappaBid: 5, AAsk: 1, KappaAsk: 20}
	q := quote.Compute(0, dec(100), 0, cp, params, nil)

	if !q.AskHalfSpread.LessThan(q.BidHalfSpread) {
		t.Errorf("AskHalfSpread = %v, BidHalfSpread = %v, want ask tighter (higher kappa_ask)",
			q.AskHalfSpread, q.BidHalfSpread)
	}
}
