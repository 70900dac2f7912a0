package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// quotesKey is a hash of pair id to the JSON-encoded latest quote.
const quotesKey = "quotes"

// QuoteCache implements domain.QuoteCache. It mirrors the in-process quote
// store so other processes (API replicas, tooling) can read current prices.
type QuoteCache struct {
	rdb *redis.Client
	key string
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.rdb, key: c.key(quotesKey)}
}

type cachedQuote struct {
	Symbol string          `json:"s"`
	Bid    decimal.Decimal `json:"b"`
	Ask    decimal.Decimal `json:"a"`
	Volume decimal.Decimal `json:"v"`
	TS     int64           `json:"ts"`
}

// SetQuotes writes every quote in one HSET.
func (qc *QuoteCache) SetQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	fields := make(map[string]any, len(quotes))
	for _, q := range quotes {
		raw, err := json.Marshal(cachedQuote{
			Symbol: q.Symbol, Bid: q.BidPrice, Ask: q.AskPrice, Volume: q.Volume,
			TS: q.ObservedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("redis: marshal quote %d: %w", q.PairID, err)
		}
		fields[strconv.FormatInt(q.PairID, 10)] = raw
	}
	if err := qc.rdb.HSet(ctx, qc.key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuote returns the mirrored quote for a pair, or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, pairID int64) (domain.Quote, error) {
	raw, err := qc.rdb.HGet(ctx, qc.key, strconv.FormatInt(pairID, 10)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Quote{}, domain.ErrNotFound
		}
		return domain.Quote{}, fmt.Errorf("redis: get quote %d: %w", pairID, err)
	}

	var c cachedQuote
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: unmarshal quote %d: %w", pairID, err)
	}
	return domain.Quote{
		PairID:     pairID,
		Symbol:     c.Symbol,
		BidPrice:   c.Bid,
		AskPrice:   c.Ask,
		Volume:     c.Volume,
		ObservedAt: time.UnixMilli(c.TS).UTC(),
	}, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
