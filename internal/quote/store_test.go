package quote

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

func q(pair int64, bid, ask string, at time.Time) domain.Quote {
	return domain.Quote{
		PairID:     pair,
		BidPrice:   decimal.RequireFromString(bid),
		AskPrice:   decimal.RequireFromString(ask),
		ObservedAt: at,
	}
}

func TestUpdateAndLatest(t *testing.T) {
	s := NewStore()
	now := time.Now()

	require.True(t, s.Update(q(1, "100", "101", now)))
	got, ok := s.Latest(1)
	require.True(t, ok)
	assert.True(t, got.BidPrice.Equal(decimal.NewFromInt(100)))

	// stale write is dropped
	assert.False(t, s.Update(q(1, "90", "91", now.Add(-time.Second))))
	got, _ = s.Latest(1)
	assert.True(t, got.BidPrice.Equal(decimal.NewFromInt(100)))

	_, ok = s.Latest(2)
	assert.False(t, ok)
}

func TestLastUpdateIsNewestAcrossPairs(t *testing.T) {
	s := NewStore()
	now := time.Now()

	require.True(t, s.Update(q(1, "100", "101", now)))
	require.True(t, s.Update(q(2, "50", "51", now.Add(-5*time.Second))), "a lagging pair still updates its own quote")
	assert.True(t, s.LastUpdate().Equal(now))

	require.True(t, s.Update(q(2, "50", "51", now.Add(time.Second))))
	assert.True(t, s.LastUpdate().Equal(now.Add(time.Second)))
}

func TestUpdateRejectsNegativePrices(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Update(q(1, "-1", "1", time.Now())))
	assert.Equal(t, 0, s.Len())
}

func TestCrossedQuoteTolerated(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Update(q(1, "102", "101", time.Now())))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Update(q(1, "100", "101", time.Now()))

	snap := s.Snapshot()
	delete(snap, 1)
	snap[2] = q(2, "1", "1", time.Now())

	assert.Equal(t, 1, s.Len())
	_, ok := s.Latest(2)
	assert.False(t, ok)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Update(q(int64(i%10), "1", "2", time.Now()))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				for range s.Snapshot() {
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, s.Len())
}
