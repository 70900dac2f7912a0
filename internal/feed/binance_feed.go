// Package feed connects the exchange market-data stream to the in-memory
// quote store.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/catalog"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/platform/binance"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/quote"
)

// BookTickerStream is the subset of binance.WSClient the feed needs.
type BookTickerStream interface {
	Run(ctx context.Context, symbols []string, handler binance.BookTickerHandler) error
}

// CatalogSource yields the current catalog.
type CatalogSource interface {
	Current(ctx context.Context) (*catalog.Catalog, error)
}

// BinanceFeed subscribes to bookTicker for every catalog pair and writes each
// update into the quote store. When the catalog version changes the stream
// is restarted with the new symbol set.
type BinanceFeed struct {
	catalog      CatalogSource
	stream       BookTickerStream
	quotes       *quote.Store
	checkEvery   time.Duration
	logger       *slog.Logger
	now          func() time.Time
	updates      atomic.Int64
	unknownPairs atomic.Int64
}

// NewBinanceFeed creates a feed. checkEvery controls how often the catalog
// version is compared; zero means one minute.
func NewBinanceFeed(cat CatalogSource, stream BookTickerStream, quotes *quote.Store, checkEvery time.Duration, logger *slog.Logger) *BinanceFeed {
	if checkEvery <= 0 {
		checkEvery = time.Minute
	}
	return &BinanceFeed{
		catalog:    cat,
		stream:     stream,
		quotes:     quotes,
		checkEvery: checkEvery,
		logger:     logger.With(slog.String("component", "binance_feed")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run streams until ctx is cancelled.
func (f *BinanceFeed) Run(ctx context.Context) error {
	f.logger.Info("quote feed started")
	defer f.logger.Info("quote feed stopped")

	for {
		cat, err := f.catalog.Current(ctx)
		if err != nil {
			return fmt.Errorf("feed: catalog: %w", err)
		}
		symbols := cat.Symbols()
		if len(symbols) == 0 {
			f.logger.Warn("catalog has no pairs, waiting for a reload")
			if !f.waitForChange(ctx, cat.Version()) {
				return nil
			}
			continue
		}

		streamCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- f.stream.Run(streamCtx, symbols, f.handler(cat))
		}()
		f.logger.Info("quote feed subscribed",
			slog.Int("symbols", len(symbols)),
			slog.String("catalog_version", cat.Version()),
		)

		changedCh := make(chan bool, 1)
		go func() {
			changedCh <- f.waitForChange(streamCtx, cat.Version())
		}()

		var changed bool
		select {
		case err = <-errCh:
			cancel()
			<-changedCh
		case changed = <-changedCh:
			cancel()
			err = <-errCh
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("feed: stream: %w", err)
		}
		if !changed {
			return nil
		}
		f.logger.Info("catalog changed, resubscribing")
	}
}

// Stats returns the number of applied updates and of updates for symbols
// missing from the catalog.
func (f *BinanceFeed) Stats() (applied, unknown int64) {
	return f.updates.Load(), f.unknownPairs.Load()
}

func (f *BinanceFeed) handler(cat *catalog.Catalog) binance.BookTickerHandler {
	return func(bt binance.BookTicker) {
		pair, ok := cat.PairBySymbol(bt.Symbol)
		if !ok {
			f.unknownPairs.Add(1)
			return
		}
		q, err := bt.Quote(pair.ID, f.now())
		if err != nil {
			f.logger.Debug("bad bookTicker",
				slog.String("symbol", bt.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		if f.quotes.Update(q) {
			f.updates.Add(1)
		}
	}
}

// waitForChange blocks until the catalog version differs from version
// (true) or ctx ends (false).
func (f *BinanceFeed) waitForChange(ctx context.Context, version string) bool {
	ticker := time.NewTicker(f.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			cat, err := f.catalog.Current(ctx)
			if err != nil {
				f.logger.Warn("catalog check failed", slog.String("error", err.Error()))
				continue
			}
			if cat.Version() != version {
				return true
			}
		}
	}
}
