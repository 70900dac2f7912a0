package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// DefaultTTL is how long a loaded catalog stays in the shared cache.
const DefaultTTL = 24 * time.Hour

// Service reads the catalog through the shared cache and keeps the last
// built Catalog in memory so ticks do not touch redis.
type Service struct {
	store  domain.CatalogStore
	cache  domain.CatalogCache
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	current *Catalog
	loaded  time.Time
}

// NewService creates a catalog Service. A zero ttl falls back to DefaultTTL.
func NewService(store domain.CatalogStore, cache domain.CatalogCache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Current returns the in-memory catalog while it is younger than the TTL,
// otherwise it reads through the cache and then the store.
func (s *Service) Current(ctx context.Context) (*Catalog, error) {
	s.mu.RLock()
	cur, loaded := s.current, s.loaded
	s.mu.RUnlock()
	if cur != nil && time.Since(loaded) < s.ttl {
		return cur, nil
	}
	return s.load(ctx)
}

// Invalidate drops both the cached and in-memory copies and reloads from the
// store.
func (s *Service) Invalidate(ctx context.Context) (*Catalog, error) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.WarnContext(ctx, "catalog: cache invalidate failed",
				slog.String("error", err.Error()),
			)
		}
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (*Catalog, error) {
	var data domain.CatalogData
	fromCache := false

	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err == nil && len(cached.Pairs) > 0 {
			data = cached
			fromCache = true
		}
	}

	if !fromCache {
		assets, err := s.store.ListAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog: list assets: %w", err)
		}
		pairs, err := s.store.ListPairs(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog: list pairs: %w", err)
		}
		data = domain.CatalogData{Assets: assets, Pairs: pairs}

		if s.cache != nil {
			if err := s.cache.Set(ctx, data, s.ttl); err != nil {
				s.logger.WarnContext(ctx, "catalog: cache set failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	cat, err := New(data.Assets, data.Pairs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = cat
	s.loaded = time.Now()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "catalog: loaded",
		slog.Int("assets", len(cat.assets)),
		slog.Int("pairs", len(cat.pairs)),
		slog.String("version", cat.Version()),
		slog.Bool("from_cache", fromCache),
	)
	return cat, nil
}
