package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ExecutionReader is the read side of the execution store.
type ExecutionReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRun, error)
	GetByID(ctx context.Context, id string) (domain.ExecutionRun, error)
}

// TransactionReader lists the transactions a run produced.
type TransactionReader interface {
	ListByExecution(ctx context.Context, executionID string) ([]domain.Transaction, error)
}

// ExecutionHandler serves orchestration runs.
type ExecutionHandler struct {
	runs   ExecutionReader
	txs    TransactionReader // optional; when nil, detail omits transactions
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(runs ExecutionReader, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{runs: runs, logger: logHandler(logger, "executions")}
}

// WithTransactions attaches the transaction store used by GetExecution.
func (h *ExecutionHandler) WithTransactions(txs TransactionReader) *ExecutionHandler {
	h.txs = txs
	return h
}

type listExecutionsResponse struct {
	Executions []executionView `json:"executions"`
}

// ListExecutions returns recent runs without their transitions.
// GET /api/executions?limit=50
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	out := make([]executionView, len(runs))
	for i, run := range runs {
		run.Transitions = nil
		out[i] = newExecutionView(run)
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: out})
}

// GetExecution returns one run with its transitions and transactions.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("execution_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	view := newExecutionView(run)
	if h.txs != nil {
		txs, err := h.txs.ListByExecution(r.Context(), id)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list execution transactions failed",
				slog.String("execution_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get execution")
			return
		}
		for _, t := range txs {
			view.Transactions = append(view.Transactions, newTransactionView(t))
		}
	}
	writeJSON(w, http.StatusOK, view)
}
