package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vault is the internal capital pool for one asset.
type Vault struct {
	ID        int64
	Asset     string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// VaultMovement is the audit row written with every vault mutation.
type VaultMovement struct {
	ID            int64
	VaultID       int64
	Asset         string
	TransactionID string
	OldAmount     decimal.Decimal
	NewAmount     decimal.Decimal
	Difference    decimal.Decimal
	CreatedAt     time.Time
}

// DailyProfit is the realised profit summed over one UTC day.
type DailyProfit struct {
	Day         time.Time
	TotalProfit decimal.Decimal
}

// ErrorLog is a postmortem record of a failed exchange call.
type ErrorLog struct {
	ID        int64
	Message   string
	Details   string
	Context   string
	CreatedAt time.Time
}
