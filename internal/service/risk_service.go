package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// RiskConfig holds the position sizing limits applied before a run.
type RiskConfig struct {
	MinPositionSize decimal.Decimal
	// MaxPositionSize caps the capital committed to one run. Zero means no cap.
	MaxPositionSize decimal.Decimal
}

// RiskService sizes a run against the vault of its start asset.
type RiskService struct {
	ledger domain.LedgerStore
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(ledger domain.LedgerStore, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
	}
}

// PreTradeCheck reads the vault for asset under a row lock and returns the
// capital to commit: the vault amount, capped at MaxPositionSize when set.
// It fails with domain.ErrInsufficientCapital when the vault holds less than
// MinPositionSize or nothing at all.
func (s *RiskService) PreTradeCheck(ctx context.Context, asset string) (decimal.Decimal, error) {
	vault, err := s.ledger.CheckCapital(ctx, asset, s.cfg.MinPositionSize)
	if err != nil {
		s.logger.InfoContext(ctx, "risk_service: capital check failed",
			slog.String("asset", asset),
			slog.String("min", s.cfg.MinPositionSize.String()),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, fmt.Errorf("risk_service: %s: %w", asset, err)
	}
	if !vault.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("risk_service: %s is empty: %w", asset, domain.ErrInsufficientCapital)
	}

	capital := vault.Amount
	if s.cfg.MaxPositionSize.IsPositive() && capital.GreaterThan(s.cfg.MaxPositionSize) {
		capital = s.cfg.MaxPositionSize
	}
	return capital, nil
}
