package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Page bounds for list endpoints.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// writeJSON encodes v with the given status. Decimals render as strings
// through their own MarshalJSON.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Default().Warn("handler: encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// listOpts reads limit, offset, since and until from the query string.
// since/until take RFC 3339 or a bare UTC date. A malformed value is
// answered with 400 and ok=false.
func listOpts(w http.ResponseWriter, r *http.Request) (opts domain.ListOpts, ok bool) {
	q := r.URL.Query()
	opts.Limit = min(queryInt(q.Get("limit"), defaultPageSize, 1), maxPageSize)
	opts.Offset = queryInt(q.Get("offset"), 0, 0)

	var err error
	if opts.Since, err = queryTime(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "since: "+err.Error())
		return opts, false
	}
	if opts.Until, err = queryTime(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "until: "+err.Error())
		return opts, false
	}
	if opts.Since != nil && opts.Until != nil && opts.Until.Before(*opts.Since) {
		writeError(w, http.StatusBadRequest, "until is before since")
		return opts, false
	}
	return opts, true
}

// parseLimit reads ?limit= for endpoints that only page by count.
func parseLimit(r *http.Request, def, max int) int {
	return min(queryInt(r.URL.Query().Get("limit"), def, 1), max)
}

// queryInt parses v, falling back to def when v is empty, malformed or
// below floor.
func queryInt(v string, def, floor int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		return def
	}
	return n
}

func queryTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", v)
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
