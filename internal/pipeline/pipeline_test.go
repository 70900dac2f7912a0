package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/quote"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memQuoteStore struct {
	mu      sync.Mutex
	batches [][]domain.Quote
	fail    error
}

func (s *memQuoteStore) AppendBatch(_ context.Context, quotes []domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, quotes)
	return nil
}

func (s *memQuoteStore) LatestPerPair(context.Context) ([]domain.Quote, error) { return nil, nil }

type memQuoteCache struct {
	set []domain.Quote
}

func (c *memQuoteCache) SetQuotes(_ context.Context, quotes []domain.Quote) error {
	c.set = quotes
	return nil
}

func (c *memQuoteCache) GetQuote(context.Context, int64) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

type countingTrigger struct{ n int }

func (t *countingTrigger) Trigger() { t.n++ }

func ethQuote(at time.Time) domain.Quote {
	return domain.Quote{
		PairID:     1,
		Symbol:     "ETHUSDT",
		BidPrice:   decimal.RequireFromString("2000"),
		AskPrice:   decimal.RequireFromString("2000.5"),
		ObservedAt: at,
	}
}

func TestQuoteRecorderSkipsIdlePeriods(t *testing.T) {
	qs := quote.NewStore()
	store := &memQuoteStore{}
	cache := &memQuoteCache{}
	trig := &countingTrigger{}
	r := NewQuoteRecorder(qs, store, cache, trig, quietLogger())
	ctx := context.Background()

	n, err := r.Record(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "empty store records nothing")

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	qs.Update(ethQuote(t0))

	n, err = r.Record(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, cache.set, 1)
	assert.Equal(t, 1, trig.n)

	n, err = r.Record(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no new quote since the last batch")

	qs.Update(ethQuote(t0.Add(time.Second)))
	n, err = r.Record(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.batches, 2)
	assert.Equal(t, 2, trig.n)
}

func TestQuoteRecorderRetriesFailedBatch(t *testing.T) {
	qs := quote.NewStore()
	qs.Update(ethQuote(time.Now().UTC()))
	store := &memQuoteStore{fail: domain.ErrPersistence}
	trig := &countingTrigger{}
	r := NewQuoteRecorder(qs, store, nil, trig, quietLogger())

	_, err := r.Record(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Zero(t, trig.n)

	store.fail = nil
	n, err := r.Record(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the failed batch is written on the next call")
}

type fakeBlobArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	failOn  string
}

func (f *fakeBlobArchiver) record(kind string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	if kind == f.failOn {
		return 0, errors.New("bucket unavailable")
	}
	return 3, nil
}

func (f *fakeBlobArchiver) ArchiveOpportunities(_ context.Context, before time.Time) (int64, error) {
	return f.record("opportunities", before)
}

func (f *fakeBlobArchiver) ArchiveMovements(_ context.Context, before time.Time) (int64, error) {
	return f.record("vault_movements", before)
}

func (f *fakeBlobArchiver) ArchiveErrorLogs(_ context.Context, before time.Time) (int64, error) {
	return f.record("error_logs", before)
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 30, quietLogger())
	a.now = func() time.Time { return time.Date(2025, 4, 30, 3, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, blob.cutoffs, 3)
	want := time.Date(2025, 3, 31, 3, 0, 0, 0, time.UTC)
	for _, c := range blob.cutoffs {
		assert.True(t, want.Equal(c), "cutoff %v", c)
	}
}

func TestArchiverRunContinuesPastFailure(t *testing.T) {
	blob := &fakeBlobArchiver{failOn: "vault_movements"}
	a := NewArchiver(blob, 90, quietLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault_movements")
	assert.Len(t, blob.cutoffs, 3, "error logs are still archived")
}

func TestArchiverRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 90, quietLogger())
	err := a.RunCron(context.Background(), "not a cron")
	require.Error(t, err)
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	r := NewQuoteRecorder(quote.NewStore(), &memQuoteStore{}, nil, nil, quietLogger())
	a := NewArchiver(&fakeBlobArchiver{}, 90, quietLogger())
	o := NewOrchestrator(quietLogger()).
		Add("quote_recorder", RecorderJob(r, 10*time.Millisecond)).
		Add("archiver", ArchiverJob(a, "0 3 1 * *")).
		Add("disabled", ArchiverJob(nil, "0 3 1 * *"))
	assert.Equal(t, []string{"quote_recorder", "archiver"}, o.Jobs())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, o.Run(ctx))
}

func TestOrchestratorReportsFailingJob(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})
	o := NewOrchestrator(quietLogger()).
		Add("steady", func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return ctx.Err()
		}).
		Add("flaky", func(context.Context) error { return boom })

	err := o.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "flaky")
	<-stopped
}
