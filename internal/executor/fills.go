package executor

import (
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Summarize aggregates the fills of one order. The weighted price is a
// running mean over fill quantities; commission asset and trade id come from
// the last fill.
func Summarize(fills []domain.Fill) domain.FillSummary {
	var s domain.FillSummary
	for _, f := range fills {
		total := s.TotalQty.Add(f.Qty)
		if total.IsPositive() {
			s.WeightedPrice = s.WeightedPrice.Mul(s.TotalQty).Add(f.Price.Mul(f.Qty)).Div(total)
		}
		s.TotalQty = total
		s.TotalCommission = s.TotalCommission.Add(f.Commission)
		if f.CommissionAsset != "" {
			s.CommissionAsset = f.CommissionAsset
		}
		s.LastTradeID = f.TradeID
	}
	return s
}

// received is the amount of the leg's target asset an order produced. After
// a BUY it is the base quantity; after a SELL it is the quote proceeds,
// falling back to executedQty times the average fill price.
func received(side domain.OrderSide, res domain.OrderResult) decimal.Decimal {
	if side == domain.OrderSideBuy {
		return res.ExecutedQty
	}
	if res.CummulativeQuoteQty.IsPositive() {
		return res.CummulativeQuoteQty
	}
	return res.ExecutedQty.Mul(Summarize(res.Fills).WeightedPrice)
}

// spent is the amount of the leg's source asset an order consumed, from its
// aggregated fills.
func spent(side domain.OrderSide, s domain.FillSummary) decimal.Decimal {
	if side == domain.OrderSideBuy {
		return s.TotalQty.Mul(s.WeightedPrice)
	}
	return s.TotalQty
}

// proceeds is the amount of the leg's target asset, from its aggregated
// fills.
func proceeds(side domain.OrderSide, s domain.FillSummary) decimal.Decimal {
	if side == domain.OrderSideBuy {
		return s.TotalQty
	}
	return s.TotalQty.Mul(s.WeightedPrice)
}
