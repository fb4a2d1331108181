// Package backtest implements the event-driven backtest engine (§4.F): the
// Warmup/Armed state machine that drives the event stream, invokes the
// calibrator when due, asks the quote model for quotes, simulates maker
// fills, and emits per-event metrics.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"as-backtester/internal/calibrate"
	"as-backtester/internal/quote"
	"as-backtester/internal/stream"
	"as-backtester/pkg/types"
)

type runState int

const (
	stateWarmup runState = iota
	stateArmed
)

// Config bundles everything the engine needs besides the stream, the
// calibrator, and the sink.
type Config struct {
	GapThresholdSecs float64
	WarmupPeriodSecs float64
	FillCooldownSecs float64
	MakerFeeBps      float64
	TakerFeeBps      float64
	InventoryMax     float64
	UnitSize         float64
	InitialCash      decimal.Decimal
	Quote            quote.Params
}

// Sink is the push interface the engine reports to (§4.G). It is a pure
// consumer: the engine never reads from it, and it never calls back into
// the engine.
type Sink interface {
	Emit(types.MetricRow)
	Finish(types.RunSummary)
}

// Engine owns all backtest state exclusively; it requires no locking since
// it is driven synchronously, one event at a time (§5).
type Engine struct {
	cfg    Config
	cal    *calibrate.Calibrator
	sink   Sink
	logger *slog.Logger

	state           runState
	warmupStartTsMs int64
	warmupWindows   int
	everArmed       bool

	st types.BacktestState

	lastSnapshot     *types.OrderbookSnapshot
	pendingTrades    []types.Trade
	outstandingQuote *types.Quote

	eventsProcessed int
	startTsMs       int64
	endTsMs         int64
	sawAnySnapshot  bool
}

// New constructs an Engine. cal is the calibrator this engine will drive;
// sink receives per-snapshot metric rows and the final summary. logger
// reports recoverable §7 conditions (ConstraintViolation fill skips) at
// Debug; nil is accepted and silently skips logging.
func New(cfg Config, cal *calibrate.Calibrator, sink Sink, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		cal:    cal,
		sink:   sink,
		logger: logger,
		state:  stateWarmup,
		st: types.BacktestState{
			Cash: cfg.InitialCash,
		},
	}
}

// Run drives s to completion, dispatching each event to the engine and
// emitting metric rows to the sink. At termination it closes out any
// residual inventory and reports the final summary. Returns the first
// fatal error encountered (context cancellation or a stream error).
func (e *Engine) Run(ctx context.Context, s *stream.Stream) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok, err := s.Next(ctx)
		if err != nil {
			return fmt.Errorf("engine: stream error: %w", err)
		}
		if !ok {
			break
		}
		e.eventsProcessed++
		if !e.sawAnySnapshot {
			e.startTsMs = ev.TsMs()
		}
		e.endTsMs = ev.TsMs()

		switch ev.Kind {
		case types.EventTrade:
			e.pendingTrades = append(e.pendingTrades, ev.Trade)
		case types.EventSnapshot:
			e.onSnapshot(ev.Snapshot)
		}
	}

	e.terminate()
	return nil
}

func (e *Engine) onSnapshot(snap types.OrderbookSnapshot) {
	mid, haveMid := snap.Mid()

	if e.lastSnapshot != nil {
		gapSecs := float64(snap.TsMs-e.lastSnapshot.TsMs) / 1000.0
		if gapSecs > e.cfg.GapThresholdSecs {
			e.enterWarmup(snap.TsMs)
		} else {
			e.processInterval(snap)
		}
	} else {
		e.warmupStartTsMs = snap.TsMs
		e.cal.Reset(snap.TsMs)
	}

	if haveMid {
		midF, _ := mid.Float64()
		e.cal.ObserveSnapshot(snap.TsMs, midF)
	}

	if e.state == stateWarmup {
		if float64(snap.TsMs-e.warmupStartTsMs)/1000.0 >= e.cfg.WarmupPeriodSecs {
			e.state = stateArmed
		} else {
			e.warmupWindows++
		}
	}

	if e.cal.Due(snap.TsMs) {
		e.cal.Recalibrate(snap.TsMs)
	}

	params := e.cal.Current()
	var q *types.Quote
	if e.state == stateArmed && haveMid {
		computed := quote.Compute(snap.TsMs, mid, e.inventoryFloat(), params, e.cfg.Quote, e.logger)
		q = &computed
		e.everArmed = true
	}
	e.outstandingQuote = q

	e.emitRow(snap, mid, haveMid, params)

	snapCopy := snap
	e.lastSnapshot = &snapCopy
	e.pendingTrades = nil
	e.sawAnySnapshot = true
}

func (e *Engine) enterWarmup(tsMs int64) {
	e.state = stateWarmup
	e.warmupStartTsMs = tsMs
	e.outstandingQuote = nil
	e.pendingTrades = nil
	e.cal.Reset(tsMs)
}

// processInterval applies the outstanding quote (computed at lastSnapshot)
// against trades observed since then, and feeds those same trades to the
// calibrator tagged with the exposure window that was active over the
// interval.
func (e *Engine) processInterval(newSnap types.OrderbookSnapshot) {
	prev := *e.lastSnapshot
	durSecs := float64(newSnap.TsMs-prev.TsMs) / 1000.0
	bidWindow, askWindow, haveWindows := exposureWindows(prev, durSecs)

	if haveWindows {
		for _, t := range e.pendingTrades {
			side := t.FillSide()
			delta := deltaForTrade(prev, t)
			if side == types.Buy {
				e.cal.ObserveFill(t.TsMs, types.Buy, calibrate.FillEvent{Delta: delta}, bidWindow)
			} else {
				e.cal.ObserveFill(t.TsMs, types.Sell, calibrate.FillEvent{Delta: delta}, askWindow)
			}
		}
	}

	if e.state == stateArmed && e.outstandingQuote != nil {
		e.simulateFills(prev, *e.outstandingQuote)
	}
}

// exposureWindows derives the bid/ask (delta_min, delta_max, duration)
// windows active over a snapshot interval, per the ExposurePoint definition
// in §3.
func exposureWindows(snap types.OrderbookSnapshot, durSecs float64) (bid, ask calibrate.ExposureWindow, ok bool) {
	mid, okMid := snap.Mid()
	bestBid, okBB := snap.BestBid()
	bestAsk, okBA := snap.BestAsk()
	worstBid, okWB := snap.WorstBid()
	worstAsk, okWA := snap.WorstAsk()
	if !okMid || !okBB || !okBA || !okWB || !okWA {
		return calibrate.ExposureWindow{}, calibrate.ExposureWindow{}, false
	}
	midF, _ := mid.Float64()
	bestBidF, _ := bestBid.Price.Float64()
	bestAskF, _ := bestAsk.Price.Float64()
	worstBidF, _ := worstBid.Price.Float64()
	worstAskF, _ := worstAsk.Price.Float64()

	bid = calibrate.ExposureWindow{DeltaMin: midF - bestBidF, DeltaMax: midF - worstBidF, DurSecs: durSecs}
	ask = calibrate.ExposureWindow{DeltaMin: bestAskF - midF, DeltaMax: worstAskF - midF, DurSecs: durSecs}
	return bid, ask, true
}

// deltaForTrade measures a trade's distance from the mid of the most recent
// snapshot at or before the trade's timestamp, per §4.C.
func deltaForTrade(snap types.OrderbookSnapshot, t types.Trade) float64 {
	mid, ok := snap.Mid()
	if !ok {
		return 0
	}
	midF, _ := mid.Float64()
	priceF, _ := t.Price.Float64()
	d := priceF - midF
	if d < 0 {
		d = -d
	}
	return d
}

// EverArmed reports whether the engine left Warmup at least once during the
// run. A run that never arms produced no quotes and is reported as
// insufficient data.
func (e *Engine) EverArmed() bool {
	return e.everArmed
}

func (e *Engine) inventoryFloat() float64 {
	f, _ := e.st.Inventory.Float64()
	return f
}

func (e *Engine) emitRow(snap types.OrderbookSnapshot, mid decimal.Decimal, haveMid bool, params types.CalibratedParams) {
	row := types.MetricRow{
		TsMs:      snap.TsMs,
		Inventory: e.st.Inventory,
		Cash:      e.st.Cash,
		Sigma:     params.Sigma,
		KappaBid:  params.KappaBid,
		KappaAsk:  params.KappaAsk,
		BidFills:  e.st.BidFills,
		AskFills:  e.st.AskFills,
		Volume:    e.st.Volume,
		Warmup:    e.state == stateWarmup,
	}
	if haveMid {
		row.Mid = mid
		row.PnL = e.st.Cash.Add(e.st.Inventory.Mul(mid))
	}
	if e.outstandingQuote != nil {
		row.Bid = e.outstandingQuote.Bid
		row.Ask = e.outstandingQuote.Ask
		row.Reservation = e.outstandingQuote.Reservation
	}
	e.sink.Emit(row)
}

// terminate closes out any residual inventory at the last known mid using
// the taker fee (liquidation is a market order), and reports the summary.
func (e *Engine) terminate() {
	finalCash := e.st.Cash
	finalInventory := e.st.Inventory
	realizedPnL := e.st.RealizedPnL

	if e.lastSnapshot != nil && !finalInventory.IsZero() {
		if mid, ok := e.lastSnapshot.Mid(); ok {
			proceeds := finalInventory.Mul(mid)
			takerFee := proceeds.Abs().Mul(decimal.NewFromFloat(e.cfg.TakerFeeBps / 10000.0))
			finalCash = finalCash.Add(proceeds).Sub(takerFee)
			realizedPnL = realizedPnL.Add(finalInventory.Mul(mid.Sub(e.st.AvgEntryPrice))).Sub(takerFee)
			finalInventory = decimal.Zero
		}
	}

	finalPnL := finalCash.Sub(e.cfg.InitialCash)
	var returnPct float64
	if !e.cfg.InitialCash.IsZero() {
		returnPct, _ = finalPnL.Div(e.cfg.InitialCash).Mul(decimal.NewFromInt(100)).Float64()
	}

	summary := types.RunSummary{
		TotalBidFills:   e.st.BidFills,
		TotalAskFills:   e.st.AskFills,
		TotalVolume:     e.st.Volume,
		RealizedPnL:     realizedPnL,
		FinalPnL:        finalPnL,
		ReturnPct:       returnPct,
		WarmupWindows:   e.warmupWindows,
		EventsProcessed: e.eventsProcessed,
		InitialCash:     e.cfg.InitialCash,
		FinalCash:       finalCash,
		FinalInventory:  finalInventory,
		StartTsMs:       e.startTsMs,
		EndTsMs:         e.endTsMs,
	}
	e.sink.Finish(summary)
}
