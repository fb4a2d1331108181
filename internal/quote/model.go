// Package quote implements the Avellaneda-Stoikov quote model (§4.E):
// reservation price, asymmetric half-spreads, and the tick/min-max-spread/
// gamma-mode policies layered on top of it.
package quote

import (
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"as-backtester/internal/observability"
	"as-backtester/pkg/types"
)

// Params bundles the quote model's configuration inputs.
type Params struct {
	Gamma                   float64
	GammaMode               types.GammaMode
	MaxShiftTicks           float64
	InventoryHorizonSecs    float64 // T
	TickSize                decimal.Decimal
	MinSpreadBps            float64
	MaxSpreadBps            float64
	MakerFeeBps             float64
	InventoryMax            float64
	QuoteValiditySecs       float64
}

// Compute runs the full 7-step AS algorithm for one snapshot and returns the
// resulting Quote. mid is the current mid price, inventory is the current
// signed position, params.Unfit params (types.CalibratedParams.Unfit) force
// defaults and a provisional quote. logger reports §7 NumericDomain
// fallbacks at Debug; nil is accepted and silently skips logging.
func Compute(tsMs int64, mid decimal.Decimal, inventory float64, cp types.CalibratedParams, p Params, logger *slog.Logger) types.Quote {
	provisional := cp.Unfit
	effective := cp
	if provisional {
		effective = types.DefaultUnfitParams()
		effective.Sigma = cp.Sigma // preserve whatever sigma estimate exists, if any
		logLine(logger, "quote computed with unfit calibrated parameters", "ts_ms", tsMs)
	}

	midF, _ := mid.Float64()

	gammaEff := resolveGamma(p, effective, inventory, logger, tsMs)
	r := midF - gammaEff*effective.Sigma*effective.Sigma*p.InventoryHorizonSecs*inventory

	bidHalf := halfSpread(gammaEff, effective.Sigma, p.InventoryHorizonSecs, effective.KappaBid, logger, tsMs, "bid")
	askHalf := halfSpread(gammaEff, effective.Sigma, p.InventoryHorizonSecs, effective.KappaAsk, logger, tsMs, "ask")

	candBid := r - bidHalf
	candAsk := r + askHalf

	minSpreadAbs := math.Max(p.MinSpreadBps/10000.0*midF, 2*p.MakerFeeBps/10000.0*midF)
	if candAsk-candBid < minSpreadAbs {
		widen := (minSpreadAbs - (candAsk - candBid)) / 2
		candBid -= widen
		candAsk += widen
	}

	maxSpreadAbs := p.MaxSpreadBps / 10000.0 * midF
	if maxSpreadAbs >= minSpreadAbs && candAsk-candBid > maxSpreadAbs {
		shrink := (candAsk - candBid - maxSpreadAbs) / 2
		candBid += shrink
		candAsk -= shrink
	}

	tick := p.TickSize
	bidDec := roundDownToTick(decimal.NewFromFloat(candBid), tick)
	askDec := roundUpToTick(decimal.NewFromFloat(candAsk), tick)

	// Report the reservation price r in decimal form, and the half-spreads
	// as the distances from r to the final rounded quotes, so asymmetric
	// kappas show up as asymmetric reported half-spreads.
	reservationDec := decimal.NewFromFloat(r)
	bidHalfDec := reservationDec.Sub(bidDec)
	askHalfDec := askDec.Sub(reservationDec)

	return types.Quote{
		TsMs:          tsMs,
		Bid:           bidDec,
		Ask:           askDec,
		Reservation:   reservationDec,
		BidHalfSpread: bidHalfDec,
		AskHalfSpread: askHalfDec,
		ValidUntilMs:  tsMs + int64(p.QuoteValiditySecs*1000),
		Provisional:   provisional,
	}
}

// resolveGamma implements §4.E step 1: resolve effective gamma by gamma_mode.
func resolveGamma(p Params, cp types.CalibratedParams, inventory float64, logger *slog.Logger, tsMs int64) float64 {
	switch p.GammaMode {
	case types.GammaInventoryScaled:
		if p.InventoryMax <= 0 {
			observability.IncNumericDomain()
			logLine(logger, "inventory_scaled gamma mode with non-positive inventory_max, falling back to constant gamma", "ts_ms", tsMs)
			return p.Gamma
		}
		return p.Gamma * math.Abs(inventory) / p.InventoryMax
	case types.GammaMaxShift:
		// gamma_eff * sigma^2 * T * q_max = max_shift_ticks * tick
		denom := cp.Sigma * cp.Sigma * p.InventoryHorizonSecs * p.InventoryMax
		if denom <= 0 {
			observability.IncNumericDomain()
			logLine(logger, "max_shift gamma mode hit a degenerate denominator, falling back to constant gamma", "ts_ms", tsMs)
			return p.Gamma
		}
		tick, _ := p.TickSize.Float64()
		return p.MaxShiftTicks * tick / denom
	default: // types.GammaConstant, or unset
		return p.Gamma
	}
}

// halfSpread implements §4.E step 3: delta_S = 1/2*gamma*sigma^2*T +
// (1/gamma)*ln(1 + gamma/kappa), with the gamma->0 limit of the log term
// being 1/kappa.
func halfSpread(gamma, sigma, T, kappa float64, logger *slog.Logger, tsMs int64, side string) float64 {
	inventoryTerm := 0.5 * gamma * sigma * sigma * T
	if gamma < 1e-9 || kappa <= 0 {
		if kappa <= 0 {
			observability.IncNumericDomain()
			logLine(logger, "non-positive kappa in half-spread, dropping the log term", "ts_ms", tsMs, "side", side)
			return inventoryTerm
		}
		return inventoryTerm + 1.0/kappa
	}
	return inventoryTerm + (1.0/gamma)*math.Log(1+gamma/kappa)
}

// logLine logs at Debug if logger is non-nil, a no-op otherwise.
func logLine(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Debug(msg, args...)
}

// roundDownToTick rounds v down (toward negative infinity) to the nearest
// multiple of tick.
func roundDownToTick(v, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return v
	}
	q := v.Div(tick).Floor()
	return q.Mul(tick)
}

// roundUpToTick rounds v up (toward positive infinity) to the nearest
// multiple of tick.
func roundUpToTick(v, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return v
	}
	q := v.Div(tick).Ceil()
	return q.Mul(tick)
}
