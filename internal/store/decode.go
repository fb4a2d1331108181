package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"as-backtester/pkg/types"
)

// decodeLevels parses a JSON array of [price_string, qty_string] pairs into
// PriceLevels, preserving exact decimal precision (no float64 round trip).
func decodeLevels(raw string) ([]types.PriceLevel, error) {
	var pairs [][2]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, err
	}
	levels := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, qty, err := decodePriceQty(p[0], p[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, types.PriceLevel{Price: price, Qty: qty})
	}
	return levels, nil
}

func decodePriceQty(priceStr, qtyStr string) (decimal.Decimal, decimal.Decimal, error) {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse quantity %q: %w", qtyStr, err)
	}
	return price, qty, nil
}
