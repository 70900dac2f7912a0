package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ProfitReader aggregates realised profit.
type ProfitReader interface {
	DailyProfit(ctx context.Context, opts domain.ListOpts) ([]domain.DailyProfit, error)
}

// ErrorLogReader lists failed exchange calls.
type ErrorLogReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ErrorLog, error)
}

// AuditReader lists audit entries by event prefix.
type AuditReader interface {
	ListEvents(ctx context.Context, prefix string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// StatisticsHandler serves reporting endpoints.
type StatisticsHandler struct {
	profit ProfitReader
	errs   ErrorLogReader
	audit  AuditReader
	logger *slog.Logger
}

// NewStatisticsHandler creates a StatisticsHandler.
func NewStatisticsHandler(profit ProfitReader, errs ErrorLogReader, logger *slog.Logger) *StatisticsHandler {
	return &StatisticsHandler{profit: profit, errs: errs, logger: logHandler(logger, "statistics")}
}

// WithAudit enables GET /api/audit.
func (h *StatisticsHandler) WithAudit(audit AuditReader) *StatisticsHandler {
	h.audit = audit
	return h
}

// DailyProfit returns profit summed per UTC day, newest day first.
// GET /api/statistics/daily?limit=30&since=2025-06-01
func (h *StatisticsHandler) DailyProfit(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(w, r)
	if !ok {
		return
	}
	days, err := h.profit.DailyProfit(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: daily profit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute daily profit")
		return
	}

	out := make([]dailyProfitView, len(days))
	for i, d := range days {
		out[i] = dailyProfitView{Day: d.Day.UTC().Format("2006-01-02"), TotalProfit: d.TotalProfit}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

// ErrorLogs returns recent exchange error records.
// GET /api/error-logs?limit=50&offset=0&until=2025-06-30T00:00:00Z
func (h *StatisticsHandler) ErrorLogs(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(w, r)
	if !ok {
		return
	}
	logs, err := h.errs.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list error logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list error logs")
		return
	}

	out := make([]errorLogView, len(logs))
	for i, l := range logs {
		out[i] = errorLogView{
			ID:        l.ID,
			Message:   l.Message,
			Details:   l.Details,
			Context:   l.Context,
			CreatedAt: l.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"error_logs": out})
}

// AuditLog returns audit entries, optionally narrowed to an event family.
// GET /api/audit?event=vault.&limit=50
func (h *StatisticsHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	opts, ok := listOpts(w, r)
	if !ok {
		return
	}
	entries, err := h.audit.ListEvents(r.Context(), r.URL.Query().Get("event"), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditView, len(entries))
	for i, e := range entries {
		out[i] = auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
