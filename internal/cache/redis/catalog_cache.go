package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

const catalogKey = "catalog"

// CatalogCache implements domain.CatalogCache. The whole asset and pair set
// is one JSON value, written after every full reload from Postgres.
type CatalogCache struct {
	rdb *redis.Client
	key string
}

// NewCatalogCache creates a CatalogCache backed by the given Client.
func NewCatalogCache(c *Client) *CatalogCache {
	return &CatalogCache{rdb: c.rdb, key: c.key(catalogKey)}
}

// Get returns the cached catalog, or domain.ErrNotFound on a miss.
func (cc *CatalogCache) Get(ctx context.Context) (domain.CatalogData, error) {
	data, err := cc.rdb.Get(ctx, cc.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CatalogData{}, domain.ErrNotFound
		}
		return domain.CatalogData{}, fmt.Errorf("redis: get catalog: %w", err)
	}

	var out domain.CatalogData
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.CatalogData{}, fmt.Errorf("redis: unmarshal catalog: %w", err)
	}
	return out, nil
}

// Set stores the catalog with the given TTL.
func (cc *CatalogCache) Set(ctx context.Context, data domain.CatalogData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("redis: marshal catalog: %w", err)
	}
	if err := cc.rdb.Set(ctx, cc.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set catalog: %w", err)
	}
	return nil
}

// Invalidate drops the cached catalog.
func (cc *CatalogCache) Invalidate(ctx context.Context) error {
	if err := cc.rdb.Del(ctx, cc.key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate catalog: %w", err)
	}
	return nil
}

var _ domain.CatalogCache = (*CatalogCache)(nil)
