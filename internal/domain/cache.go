package domain

import (
	"context"
	"time"
)

// Bus channels.
const (
	ChannelOpportunities = "opportunities"
	ChannelExecutions    = "executions"

	// StreamOpportunities is the durable, capped copy of opportunity events.
	StreamOpportunities = "stream:opportunities"
)

// CatalogData is the full reference data set cached as one unit.
type CatalogData struct {
	Assets []Asset
	Pairs  []TradingPair
}

// CatalogCache holds the catalog between reloads.
type CatalogCache interface {
	Get(ctx context.Context) (CatalogData, error)
	Set(ctx context.Context, data CatalogData, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// QuoteCache mirrors the latest quote per pair for other processes.
type QuoteCache interface {
	SetQuotes(ctx context.Context, quotes []Quote) error
	GetQuote(ctx context.Context, pairID int64) (Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
