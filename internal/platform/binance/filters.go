package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// LotSize is a LOT_SIZE or MARKET_LOT_SIZE filter.
type LotSize struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	StepSize decimal.Decimal
}

// SymbolFilters are the trading rules of one symbol that shape a market
// order quantity.
type SymbolFilters struct {
	Symbol        string
	LotSize       LotSize
	MarketLotSize *LotSize
	MinNotional   decimal.Decimal
}

var notionalBuffer = decimal.RequireFromString("1.01")

// filtersFromInfo extracts the filters of one symbol. NOTIONAL is preferred,
// with the older MIN_NOTIONAL as a fallback.
func filtersFromInfo(info SymbolInfo) (SymbolFilters, error) {
	out := SymbolFilters{Symbol: info.Symbol}
	for _, f := range info.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			lot, err := lotFrom(f)
			if err != nil {
				return SymbolFilters{}, fmt.Errorf("binance: %s LOT_SIZE: %w", info.Symbol, err)
			}
			out.LotSize = lot
		case "MARKET_LOT_SIZE":
			lot, err := lotFrom(f)
			if err != nil {
				return SymbolFilters{}, fmt.Errorf("binance: %s MARKET_LOT_SIZE: %w", info.Symbol, err)
			}
			out.MarketLotSize = &lot
		case "NOTIONAL", "MIN_NOTIONAL":
			raw := f.MinNotional
			if raw == "" {
				raw = f.Notional
			}
			n, err := parseDecimal(raw)
			if err != nil {
				return SymbolFilters{}, fmt.Errorf("binance: %s %s: %w", info.Symbol, f.FilterType, err)
			}
			if f.FilterType == "NOTIONAL" || out.MinNotional.IsZero() {
				out.MinNotional = n
			}
		}
	}
	return out, nil
}

func lotFrom(f SymbolFilter) (LotSize, error) {
	var (
		lot LotSize
		err error
	)
	if lot.MinQty, err = parseDecimal(f.MinQty); err != nil {
		return LotSize{}, err
	}
	if lot.MaxQty, err = parseDecimal(f.MaxQty); err != nil {
		return LotSize{}, err
	}
	if lot.StepSize, err = parseDecimal(f.StepSize); err != nil {
		return LotSize{}, err
	}
	return lot, nil
}

// NormalizeQuantity fits qty to the symbol's market order rules:
//
//   - round down to the step size (MARKET_LOT_SIZE, falling back to LOT_SIZE
//     for any zero field);
//   - if qty*price is under the minimum notional, recompute from
//     minNotional*1.01/price, round down, and add one step if still short;
//   - reject anything below the minimum quantity.
//
// A zero price skips the notional adjustment.
func NormalizeQuantity(qty, price decimal.Decimal, f SymbolFilters) (decimal.Decimal, error) {
	lot := f.LotSize
	if f.MarketLotSize != nil {
		lot = *f.MarketLotSize
	}
	minQty := lot.MinQty
	if !minQty.IsPositive() {
		minQty = f.LotSize.MinQty
	}
	step := lot.StepSize
	if !step.IsPositive() {
		step = f.LotSize.StepSize
	}

	adjusted := roundDownToStep(qty, step)

	if price.IsPositive() && f.MinNotional.IsPositive() && adjusted.Mul(price).LessThan(f.MinNotional) {
		required := f.MinNotional.Mul(notionalBuffer).DivRound(price, 16)
		adjusted = roundDownToStep(required, step)
		if adjusted.Mul(price).LessThan(f.MinNotional) {
			adjusted = adjusted.Add(step)
		}
	}

	if adjusted.LessThan(minQty) || !adjusted.IsPositive() {
		return decimal.Zero, fmt.Errorf("binance: %s quantity %s below minimum %s: %w",
			f.Symbol, adjusted.String(), minQty.String(), domain.ErrInvalidOrder)
	}
	return adjusted, nil
}

func roundDownToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.DivRound(step, 16).Floor().Mul(step)
}
