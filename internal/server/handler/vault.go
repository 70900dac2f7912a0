package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/service"
)

// LedgerService defines the vault operations the handler exposes.
type LedgerService interface {
	Vaults(ctx context.Context) ([]domain.Vault, error)
	Movements(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.VaultMovement, error)
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error)
	ResetVaults(ctx context.Context, targets map[string]decimal.Decimal) ([]domain.Vault, error)
}

// VaultHandler serves the capital ledger.
type VaultHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(ledger LedgerService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{ledger: ledger, logger: logHandler(logger, "vaults")}
}

type listVaultsResponse struct {
	Vaults []vaultView `json:"vaults"`
}

// ListVaults returns every vault balance.
// GET /api/vaults
func (h *VaultHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.ledger.Vaults(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list vaults failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list vaults")
		return
	}
	writeJSON(w, http.StatusOK, listVaultsResponse{Vaults: newVaultViews(vaults)})
}

type listMovementsResponse struct {
	Asset     string         `json:"asset"`
	Movements []movementView `json:"movements"`
}

// ListMovements returns the movement trail of one vault, newest first.
// GET /api/vaults/{asset}/movements?limit=50&offset=0&since=2025-06-01
func (h *VaultHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	asset := assetParam(r)
	opts, ok := listOpts(w, r)
	if !ok {
		return
	}

	moves, err := h.ledger.Movements(r.Context(), asset, opts)
	if err != nil {
		h.writeLedgerError(w, r, "list movements", asset, err)
		return
	}

	out := make([]movementView, len(moves))
	for i, m := range moves {
		out[i] = movementView{
			TransactionID: m.TransactionID,
			OldAmount:     m.OldAmount,
			NewAmount:     m.NewAmount,
			Difference:    m.Difference,
			CreatedAt:     m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, listMovementsResponse{Asset: asset, Movements: out})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Deposit credits a vault.
// POST /api/vaults/{asset}/deposit {"amount":"100"}
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "deposit", h.ledger.Deposit)
}

// Withdraw debits a vault.
// POST /api/vaults/{asset}/withdraw {"amount":"100"}
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "withdraw", h.ledger.Withdraw)
}

func (h *VaultHandler) move(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, string, decimal.Decimal) (decimal.Decimal, error),
) {
	asset := assetParam(r)

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	balance, err := fn(r.Context(), asset, req.Amount)
	if err != nil {
		h.writeLedgerError(w, r, op, asset, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Amount: balance})
}

type resetRequest struct {
	Amounts map[string]decimal.Decimal `json:"amounts"`
}

// ResetVaults sets vaults to the given balances. An empty body zeroes every
// vault.
// POST /api/vaults/reset {"amounts":{"USDT":"1000"}}
func (h *VaultHandler) ResetVaults(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	targets := make(map[string]decimal.Decimal, len(req.Amounts))
	for asset, amount := range req.Amounts {
		targets[strings.ToUpper(asset)] = amount
	}
	if len(targets) == 0 {
		vaults, err := h.ledger.Vaults(r.Context())
		if err != nil {
			h.writeLedgerError(w, r, "reset", "", err)
			return
		}
		for _, v := range vaults {
			targets[v.Asset] = decimal.Zero
		}
	}

	vaults, err := h.ledger.ResetVaults(r.Context(), targets)
	if err != nil {
		h.writeLedgerError(w, r, "reset", "", err)
		return
	}
	writeJSON(w, http.StatusOK, listVaultsResponse{Vaults: newVaultViews(vaults)})
}

func (h *VaultHandler) writeLedgerError(w http.ResponseWriter, r *http.Request, op, asset string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "vault not found")
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, service.ErrInvalidAmount.Error())
	case errors.Is(err, domain.ErrInsufficientCapital):
		writeError(w, http.StatusConflict, "insufficient capital")
	default:
		h.logger.ErrorContext(r.Context(), "handler: vault "+op+" failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" vault")
	}
}

func assetParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("asset")))
}
