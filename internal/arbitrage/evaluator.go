package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// divPrecision is the number of decimal places kept when dividing by an ask.
const divPrecision = 16

var hundred = decimal.NewFromInt(100)

// EvaluatorConfig holds the pricing parameters. Rates are in percent, so
// 0.075 means 0.075% per leg.
type EvaluatorConfig struct {
	Notional           decimal.Decimal
	MinProfitThreshold decimal.Decimal
	// FeeRate applies to every leg unless a per-length rate is set.
	FeeRate             decimal.Decimal
	FeeRateTriangular   decimal.Decimal
	FeeRateQuadrangular decimal.Decimal
}

// Evaluator prices a cycle against a quote snapshot. It holds no mutable
// state, so one Evaluator can be shared across goroutines.
type Evaluator struct {
	notional  decimal.Decimal
	threshold decimal.Decimal
	// feeMult maps a leg count to the per-leg multiplier (1 - rate/100).
	feeMult map[int]decimal.Decimal
}

// NewEvaluator creates an Evaluator. A non-positive notional is rejected.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if !cfg.Notional.IsPositive() {
		return nil, fmt.Errorf("arbitrage: notional must be positive, got %s", cfg.Notional)
	}
	rate := func(override decimal.Decimal) decimal.Decimal {
		r := cfg.FeeRate
		if override.IsPositive() {
			r = override
		}
		return decimal.NewFromInt(1).Sub(r.Div(hundred))
	}
	return &Evaluator{
		notional:  cfg.Notional,
		threshold: cfg.MinProfitThreshold,
		feeMult: map[int]decimal.Decimal{
			2: rate(cfg.FeeRateTriangular),
			3: rate(cfg.FeeRateQuadrangular),
		},
	}, nil
}

// Threshold returns the minimum qualifying profit percentage.
func (e *Evaluator) Threshold() decimal.Decimal { return e.threshold }

// Evaluate walks the notional through every leg of c. Selling the base
// multiplies by the bid; buying the base divides by the ask. Each leg is then
// charged the per-leg fee. A missing quote or a zero ask returns
// domain.ErrDataUnavailable.
func (e *Evaluator) Evaluate(c domain.Cycle, quotes map[int64]domain.Quote) (domain.Evaluation, error) {
	mult, ok := e.feeMult[len(c.Legs)]
	if !ok {
		return domain.Evaluation{}, fmt.Errorf("arbitrage: unsupported cycle length %d", len(c.Legs))
	}

	amount := e.notional
	steps := make([]domain.EvaluationStep, 0, len(c.Legs))
	for _, l := range c.Legs {
		q, ok := quotes[l.PairID]
		if !ok {
			return domain.Evaluation{}, fmt.Errorf("arbitrage: no quote for %s: %w", l.Symbol, domain.ErrDataUnavailable)
		}

		var price, out decimal.Decimal
		switch l.Direction {
		case domain.SellBase:
			price = q.BidPrice
			out = amount.Mul(price)
		case domain.BuyBase:
			price = q.AskPrice
			if price.IsZero() {
				return domain.Evaluation{}, fmt.Errorf("arbitrage: zero ask for %s: %w", l.Symbol, domain.ErrDataUnavailable)
			}
			out = amount.DivRound(price, divPrecision)
		default:
			return domain.Evaluation{}, fmt.Errorf("arbitrage: leg %s has no direction", l.Symbol)
		}
		out = out.Mul(mult)

		steps = append(steps, domain.EvaluationStep{
			Symbol:    l.Symbol,
			Direction: l.Direction,
			Price:     price,
			AmountIn:  amount,
			AmountOut: out,
		})
		amount = out
	}

	profit := amount.Sub(e.notional).DivRound(e.notional, divPrecision).Mul(hundred)
	return domain.Evaluation{
		StartAmount:      e.notional,
		FinalAmount:      amount,
		ProfitPercentage: profit,
		Steps:            steps,
		Profitable:       profit.GreaterThanOrEqual(e.threshold),
	}, nil
}
