package handler

import (
	"net/http"
	"sort"
	"time"
)

// StatusSource exposes runtime state for the status endpoint. Any field may
// be nil when the running mode lacks that component.
type StatusSource struct {
	LastQuote func() time.Time
	Quotes    func() int
	InFlight  func() []string
}

// StatusHandler serves the engine status for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	src       StatusSource
}

// NewStatusHandler creates a StatusHandler for the given mode.
func NewStatusHandler(mode string, startedAt time.Time, src StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, src: src}
}

// GetStatus responds with the mode, uptime, quote freshness and the start
// assets with a run in flight.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.src.LastQuote != nil {
		if t := h.src.LastQuote(); !t.IsZero() {
			resp["last_quote_at"] = t.UTC().Format(time.RFC3339)
		}
	}
	if h.src.Quotes != nil {
		resp["quotes"] = h.src.Quotes()
	}
	inFlight := []string{}
	if h.src.InFlight != nil {
		inFlight = append(inFlight, h.src.InFlight()...)
		sort.Strings(inFlight)
	}
	resp["in_flight"] = inFlight
	writeJSON(w, http.StatusOK, resp)
}
