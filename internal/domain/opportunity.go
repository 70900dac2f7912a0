package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a cycle that cleared the profit threshold on one tick.
// The same cycle is recorded again on every tick it qualifies.
type Opportunity struct {
	ID                 string
	CycleKind          CycleKind
	CycleKey           string
	StartAsset         string
	EndAsset           string
	Legs               []Leg
	Prices             []decimal.Decimal
	ProfitPercentage   decimal.Decimal
	MinProfitThreshold decimal.Decimal
	Executed           bool
	CreatedAt          time.Time
}

// EvaluationStep is the running amount after one leg.
type EvaluationStep struct {
	Symbol    string
	Direction LegDirection
	Price     decimal.Decimal
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
}

// Evaluation is the result of pricing a cycle against a quote set.
type Evaluation struct {
	StartAmount      decimal.Decimal
	FinalAmount      decimal.Decimal
	ProfitPercentage decimal.Decimal
	Steps            []EvaluationStep
	Profitable       bool
}

// Prices returns the price used on each leg.
func (e Evaluation) Prices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(e.Steps))
	for i, s := range e.Steps {
		out[i] = s.Price
	}
	return out
}

// OpportunityEvent is the bus payload published for every recorded
// opportunity.
type OpportunityEvent struct {
	Event            string    `json:"event"`
	OpportunityID    string    `json:"opp_id"`
	Cycle            string    `json:"cycle"`
	Kind             CycleKind `json:"kind"`
	StartAsset       string    `json:"start_asset"`
	EndAsset         string    `json:"end_asset"`
	ProfitPercentage string    `json:"profit_percentage"`
	At               time.Time `json:"at"`
}
