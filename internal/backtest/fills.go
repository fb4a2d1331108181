package backtest

import (
	"github.com/shopspring/decimal"

	"as-backtester/internal/observability"
	"as-backtester/pkg/types"
)

// simulateFills applies the fill-simulation rules of §4.F to the trades
// buffered since snapBefore, against the quote that was outstanding over
// that interval. At most one fill per side; if both sides are eligible,
// the sell side is applied first (conservative inventory reduction).
func (e *Engine) simulateFills(snapBefore types.OrderbookSnapshot, q types.Quote) {
	if q.Provisional {
		return
	}
	mid, okMid := snapBefore.Mid()
	if !okMid {
		return
	}

	cooldownMs := int64(e.cfg.FillCooldownSecs * 1000)

	var sellTrade, buyTrade *types.Trade
	var sellSkipReason, buySkipReason string
	for i := range e.pendingTrades {
		t := e.pendingTrades[i]
		if t.TsMs > q.ValidUntilMs {
			continue
		}

		if sellTrade == nil && !t.IsBuyerMaker && t.Price.GreaterThanOrEqual(q.Ask) {
			// aggressor buy lifts our ask -> we sell
			switch {
			case e.st.LastAskFillTs != 0 && t.TsMs-e.st.LastAskFillTs < cooldownMs:
				sellSkipReason = "cooldown"
			case !e.st.Inventory.GreaterThan(decimal.NewFromFloat(-e.cfg.InventoryMax)):
				sellSkipReason = "inventory_cap"
			default:
				tt := t
				sellTrade = &tt
				sellSkipReason = ""
			}
		}

		if buyTrade == nil && t.IsBuyerMaker && t.Price.LessThanOrEqual(q.Bid) {
			// aggressor sell hits our bid -> we buy
			requiredCash := q.Bid.Mul(decimal.NewFromFloat(e.cfg.UnitSize)).
				Mul(decimal.NewFromFloat(1 + e.cfg.MakerFeeBps/10000.0))
			switch {
			case e.st.LastBidFillTs != 0 && t.TsMs-e.st.LastBidFillTs < cooldownMs:
				buySkipReason = "cooldown"
			case !e.st.Inventory.LessThan(decimal.NewFromFloat(e.cfg.InventoryMax)):
				buySkipReason = "inventory_cap"
			case e.st.Cash.LessThan(requiredCash):
				buySkipReason = "insufficient_cash"
			default:
				tt := t
				buyTrade = &tt
				buySkipReason = ""
			}
		}
	}

	if sellTrade != nil {
		e.applySell(*sellTrade, q, mid)
	} else if sellSkipReason != "" {
		e.skipConstraint("ask", sellSkipReason)
	}
	if buyTrade != nil {
		e.applyBuy(*buyTrade, q, mid)
	} else if buySkipReason != "" {
		e.skipConstraint("bid", buySkipReason)
	}
}

// skipConstraint records a §7 ConstraintViolation: a trade crossed our quote
// but was held back by cooldown, the inventory cap, or insufficient cash.
func (e *Engine) skipConstraint(side, reason string) {
	observability.IncConstraintSkip(reason)
	if e.logger != nil {
		e.logger.Debug("fill skipped by constraint", "side", side, "reason", reason)
	}
}

// applySell fills unit_size (scaled down near the inventory floor) at
// max(ask, mid) — never better than our quote, never worse than the
// snapshot mid — and charges the maker fee.
func (e *Engine) applySell(t types.Trade, q types.Quote, mid decimal.Decimal) {
	fillPrice := q.Ask
	if mid.GreaterThan(fillPrice) {
		fillPrice = mid
	}

	remainingCapacity, _ := e.st.Inventory.Sub(decimal.NewFromFloat(-e.cfg.InventoryMax)).Float64()
	size := scaledSize(e.cfg.UnitSize, remainingCapacity, e.cfg.InventoryMax)
	sizeDec := decimal.NewFromFloat(size)

	proceeds := fillPrice.Mul(sizeDec)
	fee := proceeds.Mul(decimal.NewFromFloat(e.cfg.MakerFeeBps / 10000.0))

	e.realizeFill(sizeDec.Neg(), fillPrice)
	e.st.RealizedPnL = e.st.RealizedPnL.Sub(fee)
	e.st.Cash = e.st.Cash.Add(proceeds).Sub(fee)
	e.st.Volume = e.st.Volume.Add(sizeDec)
	e.st.AskFills++
	e.st.LastAskFillTs = t.TsMs
}

// applyBuy fills unit_size (scaled down near the inventory ceiling) at
// min(bid, mid) and charges the maker fee.
func (e *Engine) applyBuy(t types.Trade, q types.Quote, mid decimal.Decimal) {
	fillPrice := q.Bid
	if mid.LessThan(fillPrice) {
		fillPrice = mid
	}

	remainingCapacity, _ := decimal.NewFromFloat(e.cfg.InventoryMax).Sub(e.st.Inventory).Float64()
	size := scaledSize(e.cfg.UnitSize, remainingCapacity, e.cfg.InventoryMax)
	sizeDec := decimal.NewFromFloat(size)

	cost := fillPrice.Mul(sizeDec)
	fee := cost.Mul(decimal.NewFromFloat(e.cfg.MakerFeeBps / 10000.0))

	e.realizeFill(sizeDec, fillPrice)
	e.st.RealizedPnL = e.st.RealizedPnL.Sub(fee)
	e.st.Cash = e.st.Cash.Sub(cost).Sub(fee)
	e.st.Volume = e.st.Volume.Add(sizeDec)
	e.st.BidFills++
	e.st.LastBidFillTs = t.TsMs
}

// realizeFill updates Inventory and AvgEntryPrice for a fill of signedSize
// (positive = buy, negative = sell) at price, crediting RealizedPnL for
// whatever portion of signedSize offsets an existing opposite-sign position.
// Together with applySell/applyBuy, which charge each maker fee to
// RealizedPnL, this is the avg-entry/realized-PnL bookkeeping that keeps RunSummary's
// invariant (realized_pnl == cash - initial_cash once inventory returns to
// zero) true across intermediate round trips, not just at termination.
func (e *Engine) realizeFill(signedSize, price decimal.Decimal) {
	prev := e.st.Inventory
	next := prev.Add(signedSize)

	if prev.Sign() == 0 || prev.Sign() == signedSize.Sign() {
		// Opening or adding to a position: roll the average entry price.
		prevCost := prev.Abs().Mul(e.st.AvgEntryPrice)
		addedCost := signedSize.Abs().Mul(price)
		if !next.IsZero() {
			e.st.AvgEntryPrice = prevCost.Add(addedCost).Div(next.Abs())
		}
		e.st.Inventory = next
		return
	}

	// Reducing or flipping: the portion up to min(|prev|, |signedSize|)
	// offsets the existing position and realizes PnL against its entry price.
	reduced := decimal.Min(prev.Abs(), signedSize.Abs())
	var pnlPerUnit decimal.Decimal
	if prev.IsPositive() {
		pnlPerUnit = price.Sub(e.st.AvgEntryPrice)
	} else {
		pnlPerUnit = e.st.AvgEntryPrice.Sub(price)
	}
	e.st.RealizedPnL = e.st.RealizedPnL.Add(pnlPerUnit.Mul(reduced))

	e.st.Inventory = next
	switch {
	case next.IsZero():
		e.st.AvgEntryPrice = decimal.Zero
	case next.Sign() != prev.Sign():
		// Flipped through zero: the residual opens a fresh position at price.
		e.st.AvgEntryPrice = price
	}
}

// scaledSize implements §4.F step 3: unit_size * min(1, remaining_capacity
// / inventory_max).
func scaledSize(unitSize, remainingCapacity, inventoryMax float64) float64 {
	if inventoryMax <= 0 {
		return 0
	}
	ratio := remainingCapacity / inventoryMax
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return unitSize * ratio
}
