package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CatalogStore reads the asset and pair reference data.
type CatalogStore interface {
	ListAssets(ctx context.Context) ([]Asset, error)
	ListPairs(ctx context.Context) ([]TradingPair, error)
}

// QuoteStore persists the append-only quote series.
type QuoteStore interface {
	AppendBatch(ctx context.Context, quotes []Quote) error
	LatestPerPair(ctx context.Context) ([]Quote, error)
}

// OpportunityStore persists opportunity history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// LedgerStore owns the vault rows. Every mutation computes the new amount at
// the storage layer and writes one movement row in the same unit of work.
// Debit and SetAmount also insert their anchoring transaction in that unit.
type LedgerStore interface {
	Get(ctx context.Context, asset string) (Vault, error)
	List(ctx context.Context) ([]Vault, error)
	ApplyDelta(ctx context.Context, asset string, delta decimal.Decimal, transactionID string) (decimal.Decimal, error)
	Debit(ctx context.Context, asset string, amount decimal.Decimal, anchor Transaction) (decimal.Decimal, error)
	SetAmount(ctx context.Context, asset string, target decimal.Decimal, anchor Transaction) (VaultMovement, error)
	CheckCapital(ctx context.Context, asset string, required decimal.Decimal) (Vault, error)
	Movements(ctx context.Context, asset string, opts ListOpts) ([]VaultMovement, error)
	MovementsBefore(ctx context.Context, before time.Time) ([]VaultMovement, error)
}

// TransactionStore persists transactions and the order/fee rows hanging off them.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	Settle(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByExecution(ctx context.Context, executionID string) ([]Transaction, error)
	DailyProfit(ctx context.Context, opts ListOpts) ([]DailyProfit, error)
}

// ExecutionStore persists orchestration runs and their state transitions.
type ExecutionStore interface {
	Create(ctx context.Context, run ExecutionRun) error
	Transition(ctx context.Context, runID string, from, to ExecutionState, detail string) error
	SetResult(ctx context.Context, runID string, capital, finalAmount decimal.Decimal, reason string) error
	GetByID(ctx context.Context, id string) (ExecutionRun, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRun, error)
}

// ErrorLogStore is the write-mostly sink for failed exchange calls.
type ErrorLogStore interface {
	Create(ctx context.Context, entry ErrorLog) error
	List(ctx context.Context, opts ListOpts) ([]ErrorLog, error)
	ListBefore(ctx context.Context, before time.Time) ([]ErrorLog, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
