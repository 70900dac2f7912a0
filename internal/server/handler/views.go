package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// JSON views of the domain types. Decimals marshal as strings.

type legView struct {
	Symbol    string              `json:"symbol"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	Direction domain.LegDirection `json:"direction"`
}

type opportunityView struct {
	ID                 string            `json:"id"`
	Kind               domain.CycleKind  `json:"kind"`
	Cycle              string            `json:"cycle"`
	StartAsset         string            `json:"start_asset"`
	EndAsset           string            `json:"end_asset"`
	Legs               []legView         `json:"legs"`
	Prices             []decimal.Decimal `json:"prices"`
	ProfitPercentage   decimal.Decimal   `json:"profit_percentage"`
	MinProfitThreshold decimal.Decimal   `json:"min_profit_threshold"`
	Executed           bool              `json:"executed"`
	CreatedAt          time.Time         `json:"created_at"`
}

func newOpportunityView(o domain.Opportunity) opportunityView {
	legs := make([]legView, len(o.Legs))
	for i, l := range o.Legs {
		legs[i] = legView{Symbol: l.Symbol, From: l.From, To: l.To, Direction: l.Direction}
	}
	prices := o.Prices
	if prices == nil {
		prices = []decimal.Decimal{}
	}
	return opportunityView{
		ID:                 o.ID,
		Kind:               o.CycleKind,
		Cycle:              o.CycleKey,
		StartAsset:         o.StartAsset,
		EndAsset:           o.EndAsset,
		Legs:               legs,
		Prices:             prices,
		ProfitPercentage:   o.ProfitPercentage,
		MinProfitThreshold: o.MinProfitThreshold,
		Executed:           o.Executed,
		CreatedAt:          o.CreatedAt,
	}
}

type transitionView struct {
	From   domain.ExecutionState `json:"from"`
	To     domain.ExecutionState `json:"to"`
	Detail string                `json:"detail,omitempty"`
	At     time.Time             `json:"at"`
}

type transactionView struct {
	ID           string                   `json:"id"`
	Type         domain.TransactionType   `json:"type"`
	Status       domain.TransactionStatus `json:"status"`
	Asset        string                   `json:"asset,omitempty"`
	Amount       decimal.Decimal          `json:"amount"`
	PricePerUnit decimal.Decimal          `json:"price_per_unit"`
	Result       *string                  `json:"result,omitempty"`
	Profit       *decimal.Decimal         `json:"profit,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
}

func newTransactionView(t domain.Transaction) transactionView {
	return transactionView{
		ID:           t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Asset:        t.Asset,
		Amount:       t.Amount,
		PricePerUnit: t.PricePerUnit,
		Result:       t.Result,
		Profit:       t.Profit,
		CreatedAt:    t.CreatedAt,
	}
}

type executionView struct {
	ID            string                `json:"id"`
	OpportunityID string                `json:"opp_id,omitempty"`
	Cycle         string                `json:"cycle"`
	StartAsset    string                `json:"start_asset"`
	EndAsset      string                `json:"end_asset"`
	State         domain.ExecutionState `json:"state"`
	Reason        string                `json:"reason,omitempty"`
	Capital       decimal.Decimal       `json:"capital"`
	FinalAmount   decimal.Decimal       `json:"final_amount"`
	Transitions   []transitionView      `json:"transitions,omitempty"`
	Transactions  []transactionView     `json:"transactions,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func newExecutionView(run domain.ExecutionRun) executionView {
	v := executionView{
		ID:            run.ID,
		OpportunityID: run.OpportunityID,
		Cycle:         run.CycleKey,
		StartAsset:    run.StartAsset,
		EndAsset:      run.EndAsset,
		State:         run.State,
		Reason:        run.Reason,
		Capital:       run.Capital,
		FinalAmount:   run.FinalAmount,
		StartedAt:     run.StartedAt,
		UpdatedAt:     run.UpdatedAt,
	}
	for _, t := range run.Transitions {
		v.Transitions = append(v.Transitions, transitionView{From: t.From, To: t.To, Detail: t.Detail, At: t.At})
	}
	return v
}

type vaultView struct {
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newVaultViews(vaults []domain.Vault) []vaultView {
	out := make([]vaultView, len(vaults))
	for i, v := range vaults {
		out[i] = vaultView{Asset: v.Asset, Amount: v.Amount, UpdatedAt: v.UpdatedAt}
	}
	return out
}

type movementView struct {
	TransactionID string          `json:"transaction_id"`
	OldAmount     decimal.Decimal `json:"old_amount"`
	NewAmount     decimal.Decimal `json:"new_amount"`
	Difference    decimal.Decimal `json:"difference"`
	CreatedAt     time.Time       `json:"created_at"`
}

type dailyProfitView struct {
	Day         string          `json:"day"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

type errorLogView struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Details   string    `json:"details"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
