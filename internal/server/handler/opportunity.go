package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// OpportunityLister defines what the opportunity handler requires.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// OpportunityHandler serves the opportunity history.
type OpportunityHandler struct {
	opps   OpportunityLister
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(opps OpportunityLister, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, logger: logHandler(logger, "opportunities")}
}

type listOpportunitiesResponse struct {
	Opportunities []opportunityView `json:"opportunities"`
}

// ListRecent returns the most recent opportunities, newest first.
// GET /api/opportunities?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)

	opps, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	out := make([]opportunityView, len(opps))
	for i, o := range opps {
		out[i] = newOpportunityView(o)
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: out})
}
