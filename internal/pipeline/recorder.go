package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/quote"
)

// Trigger requests an out-of-band detector tick.
type Trigger interface {
	Trigger()
}

// QuoteRecorder periodically persists the in-memory quote snapshot, mirrors
// it to the shared cache and nudges the detector.
type QuoteRecorder struct {
	quotes  *quote.Store
	store   domain.QuoteStore
	cache   domain.QuoteCache
	trigger Trigger
	logger  *slog.Logger

	lastRecorded time.Time
}

// NewQuoteRecorder creates a QuoteRecorder. cache and trigger may be nil.
func NewQuoteRecorder(
	quotes *quote.Store,
	store domain.QuoteStore,
	cache domain.QuoteCache,
	trigger Trigger,
	logger *slog.Logger,
) *QuoteRecorder {
	return &QuoteRecorder{
		quotes:  quotes,
		store:   store,
		cache:   cache,
		trigger: trigger,
		logger:  logger.With(slog.String("component", "quote_recorder")),
	}
}

// Record writes one batch if the store changed since the previous call and
// returns the number of quotes written.
func (r *QuoteRecorder) Record(ctx context.Context) (int, error) {
	last := r.quotes.LastUpdate()
	if last.IsZero() || !last.After(r.lastRecorded) {
		return 0, nil
	}

	batch := r.quotes.List()
	if err := r.store.AppendBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("quote recorder: append %d quotes: %w", len(batch), err)
	}
	r.lastRecorded = last

	if r.cache != nil {
		if err := r.cache.SetQuotes(ctx, batch); err != nil {
			r.logger.WarnContext(ctx, "mirror quotes to cache failed", slog.String("error", err.Error()))
		}
	}
	if r.trigger != nil {
		r.trigger.Trigger()
	}
	return len(batch), nil
}

// RunLoop records every interval until ctx is cancelled. Failed batches are
// logged and retried on the next tick.
func (r *QuoteRecorder) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("quote recorder started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("quote recorder stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := r.Record(ctx)
			if err != nil {
				r.logger.Error("record quotes failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				r.logger.Debug("quotes recorded", slog.Int("count", n))
			}
		}
	}
}
