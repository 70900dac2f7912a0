package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/catalog"
)

// CatalogRefresher reloads the catalog from the store.
type CatalogRefresher interface {
	Invalidate(ctx context.Context) (*catalog.Catalog, error)
}

// CatalogHandler serves catalog maintenance endpoints.
type CatalogHandler struct {
	catalog CatalogRefresher
	trigger func() // when non-nil, called after a refresh to run one detector tick
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(c CatalogRefresher, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: c, logger: logHandler(logger, "catalog")}
}

// WithTrigger sets the function called after a successful refresh.
func (h *CatalogHandler) WithTrigger(fn func()) *CatalogHandler {
	h.trigger = fn
	return h
}

// Refresh drops the cached catalog and reloads it. The quote feed picks up
// the new version on its own.
// POST /api/catalog/refresh
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.Invalidate(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: catalog refresh failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to refresh catalog")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: catalog refreshed",
		slog.String("version", c.Version()),
	)
	if h.trigger != nil {
		h.trigger()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":      c.Version(),
		"assets":       len(c.ListAssets()),
		"pairs":        len(c.ListPairs()),
		"refreshed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
