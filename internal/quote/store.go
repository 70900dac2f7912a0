// Package quote keeps the latest bid/ask per trading pair in memory. Readers
// always receive copies, so a tick can iterate a snapshot while the feed keeps
// writing.
package quote

import (
	"sync"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Store is the in-process latest-quote table.
type Store struct {
	mu     sync.RWMutex
	quotes map[int64]domain.Quote
	// updated is bumped on every write so the recorder can skip idle periods.
	updated time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{quotes: make(map[int64]domain.Quote)}
}

// Update replaces the quote for q.PairID. Quotes older than the stored one
// are ignored. Negative prices are rejected by returning false.
func (s *Store) Update(q domain.Quote) bool {
	if q.BidPrice.IsNegative() || q.AskPrice.IsNegative() {
		return false
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.quotes[q.PairID]; ok && q.ObservedAt.Before(prev.ObservedAt) {
		return false
	}
	s.quotes[q.PairID] = q
	if q.ObservedAt.After(s.updated) {
		s.updated = q.ObservedAt
	}
	return true
}

// Latest returns the stored quote for pairID.
func (s *Store) Latest(pairID int64) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[pairID]
	return q, ok
}

// Snapshot returns a copy of every stored quote keyed by pair id.
func (s *Store) Snapshot() map[int64]domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// List returns the stored quotes as a slice, for batch persistence.
func (s *Store) List() []domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quote, 0, len(s.quotes))
	for _, v := range s.quotes {
		out = append(out, v)
	}
	return out
}

// LastUpdate returns the newest observation time across all pairs. A pair
// whose feed lags never moves it backwards.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Len returns the number of pairs with a quote.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// Seed loads quotes without the ordering check, used at startup to warm the
// store from the last persisted row per pair.
func (s *Store) Seed(quotes []domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quotes {
		s.quotes[q.PairID] = q
		if q.ObservedAt.After(s.updated) {
			s.updated = q.ObservedAt
		}
	}
}
