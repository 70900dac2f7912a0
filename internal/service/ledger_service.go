package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ErrInvalidAmount is returned for zero or negative deposit and withdrawal
// amounts.
var ErrInvalidAmount = errors.New("amount must be greater than zero")

const resultSuccess = "SUCCESS"

// LedgerService is the operator-facing side of the vaults: deposits,
// withdrawals and resets. Each one creates its anchoring transaction before
// the vault delta, so every movement points at a real row.
type LedgerService struct {
	ledger domain.LedgerStore
	txs    domain.TransactionStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService. audit may be nil.
func NewLedgerService(
	ledger domain.LedgerStore,
	txs domain.TransactionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		txs:    txs,
		audit:  audit,
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// Vaults returns every vault.
func (s *LedgerService) Vaults(ctx context.Context) ([]domain.Vault, error) {
	vaults, err := s.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list vaults: %w", err)
	}
	return vaults, nil
}

// Movements returns one vault's movement trail, newest first.
func (s *LedgerService) Movements(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.VaultMovement, error) {
	if _, err := s.ledger.Get(ctx, asset); err != nil {
		return nil, fmt.Errorf("ledger_service: movements %s: %w", asset, err)
	}
	ms, err := s.ledger.Movements(ctx, asset, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: movements %s: %w", asset, err)
	}
	return ms, nil
}

// Deposit adds amount to the asset's vault and returns the new balance.
func (s *LedgerService) Deposit(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger_service: deposit %s: %w", asset, ErrInvalidAmount)
	}
	if _, err := s.ledger.Get(ctx, asset); err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: deposit %s: %w", asset, err)
	}

	tx := anchor(domain.TransactionDeposit, asset, amount)
	if err := s.txs.Create(ctx, tx); err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: deposit %s: %w", asset, err)
	}
	balance, err := s.ledger.ApplyDelta(ctx, asset, amount, tx.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: deposit %s: %w", asset, err)
	}
	s.recorded(ctx, "deposit", asset, amount, balance, tx.ID)
	return balance, nil
}

// Withdraw removes amount from the asset's vault and returns the new
// balance. It fails with domain.ErrInsufficientCapital when the vault holds
// less than amount. CheckCapital rejects the obvious case early; the store's
// guarded debit decides when withdrawals race.
func (s *LedgerService) Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger_service: withdraw %s: %w", asset, ErrInvalidAmount)
	}
	if _, err := s.ledger.CheckCapital(ctx, asset, amount); err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: withdraw %s: %w", asset, err)
	}

	tx := anchor(domain.TransactionWithdrawal, asset, amount)
	balance, err := s.ledger.Debit(ctx, asset, amount, tx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: withdraw %s: %w", asset, err)
	}
	s.recorded(ctx, "withdrawal", asset, amount.Neg(), balance, tx.ID)
	return balance, nil
}

// ResetVaults brings each listed vault to its target balance. The store
// computes target minus current under a row lock and records it as a
// movement, so the trail stays complete and concurrent deltas are never
// folded into the target. Assets are processed in name order; the first
// failure stops the reset.
func (s *LedgerService) ResetVaults(ctx context.Context, targets map[string]decimal.Decimal) ([]domain.Vault, error) {
	assets := make([]string, 0, len(targets))
	for a, target := range targets {
		if target.IsNegative() {
			return nil, fmt.Errorf("ledger_service: reset %s to %s: %w", a, target, ErrInvalidAmount)
		}
		assets = append(assets, a)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		m, err := s.ledger.SetAmount(ctx, asset, targets[asset], anchor(domain.TransactionDeposit, asset, decimal.Zero))
		if err != nil {
			return nil, fmt.Errorf("ledger_service: reset %s: %w", asset, err)
		}
		if m.TransactionID == "" {
			continue
		}
		s.recorded(ctx, "reset", asset, m.Difference, m.NewAmount, m.TransactionID)
	}
	return s.Vaults(ctx)
}

// anchor builds the transaction a deposit, withdrawal or reset hangs its
// movement on. Amount is always positive; the type carries the direction.
func anchor(typ domain.TransactionType, asset string, amount decimal.Decimal) domain.Transaction {
	result := resultSuccess
	return domain.Transaction{
		ID:           uuid.NewString(),
		Amount:       amount,
		PricePerUnit: decimal.NewFromInt(1),
		Status:       domain.TransactionFilled,
		Type:         typ,
		Asset:        asset,
		Result:       &result,
		CreatedAt:    time.Now().UTC(),
	}
}

func (s *LedgerService) recorded(ctx context.Context, op, asset string, delta, balance decimal.Decimal, txID string) {
	s.logger.InfoContext(ctx, "vault "+op,
		slog.String("asset", asset),
		slog.String("delta", delta.String()),
		slog.String("balance", balance.String()),
		slog.String("tx_id", txID),
	)
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, "vault."+op, map[string]any{
		"asset":   asset,
		"delta":   delta.String(),
		"balance": balance.String(),
		"tx_id":   txID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
