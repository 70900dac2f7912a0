package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Archiver copies old opportunities, vault movements and error logs to cold
// storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Cutoff returns the instant before which rows are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive pass. Every kind is attempted; failures are
// joined into the returned error.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archive := map[domain.ArchiveKind]func(context.Context, time.Time) (int64, error){
		domain.ArchiveOpportunities:  a.blobArchiver.ArchiveOpportunities,
		domain.ArchiveVaultMovements: a.blobArchiver.ArchiveMovements,
		domain.ArchiveErrorLogs:      a.blobArchiver.ArchiveErrorLogs,
	}

	var errs []error
	var total int64
	for _, kind := range domain.ArchiveKinds {
		n, err := archive[kind](ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("archiving %s before %v: %w", kind, cutoff, err))
			continue
		}
		total += n
		a.logger.Info("archived", slog.String("kind", string(kind)), slog.Int64("count", n))
	}

	a.logger.Info("archive run complete", slog.Int64("archived", total), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// RunCron runs the archiver on a standard 5-field cron expression until ctx
// is cancelled.
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cronExpr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}

	c.Start()
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
