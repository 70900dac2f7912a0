package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionState is a step of the orchestration state machine.
type ExecutionState string

const (
	StateReserveCapital ExecutionState = "RESERVE_CAPITAL"
	StateLeg1           ExecutionState = "LEG_1"
	StateLeg2           ExecutionState = "LEG_2"
	StateLeg3           ExecutionState = "LEG_3"
	StateSettle         ExecutionState = "SETTLE"
	StateSettled        ExecutionState = "SETTLED"
	StateAborted        ExecutionState = "ABORTED"
	// StatePartial is an abort after at least one leg filled. The portfolio
	// holds an intermediate asset and needs manual intervention.
	StatePartial ExecutionState = "PARTIAL"
)

// LegState returns the state for the 1-based leg index.
func LegState(i int) ExecutionState {
	switch i {
	case 1:
		return StateLeg1
	case 2:
		return StateLeg2
	default:
		return StateLeg3
	}
}

// Terminal reports whether no further transition is allowed.
func (s ExecutionState) Terminal() bool {
	return s == StateSettled || s == StateAborted || s == StatePartial
}

// ExecutionRun is the persisted record of one orchestration attempt.
type ExecutionRun struct {
	ID            string
	OpportunityID string
	CycleKey      string
	StartAsset    string
	EndAsset      string
	State         ExecutionState
	Reason        string
	Capital       decimal.Decimal
	FinalAmount   decimal.Decimal
	Transitions   []ExecutionTransition
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// ExecutionTransition records one state change of a run.
type ExecutionTransition struct {
	RunID  string
	From   ExecutionState
	To     ExecutionState
	Detail string
	At     time.Time
}

// ExecutionEvent is the bus payload published when a run reaches a terminal
// state.
type ExecutionEvent struct {
	Event         string         `json:"event"`
	RunID         string         `json:"run_id"`
	OpportunityID string         `json:"opp_id,omitempty"`
	Cycle         string         `json:"cycle"`
	StartAsset    string         `json:"start_asset"`
	EndAsset      string         `json:"end_asset"`
	State         ExecutionState `json:"state"`
	Reason        string         `json:"reason,omitempty"`
	Capital       string         `json:"capital"`
	FinalAmount   string         `json:"final_amount"`
	At            time.Time      `json:"at"`
}
