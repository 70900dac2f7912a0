package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one long-running background task. Run blocks until ctx is done or
// the job fails.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Orchestrator runs the background jobs of an engine process: the quote
// recorder, the archive cron and the notification relay.
type Orchestrator struct {
	jobs   []Job
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator with no jobs.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.With(slog.String("component", "pipeline"))}
}

// Add registers a job. Nil run funcs are ignored so optional jobs can be
// added unconditionally.
func (o *Orchestrator) Add(name string, run func(ctx context.Context) error) *Orchestrator {
	if run != nil {
		o.jobs = append(o.jobs, Job{Name: name, Run: run})
	}
	return o
}

// RecorderJob flushes quotes every interval.
func RecorderJob(r *QuoteRecorder, interval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error { return r.RunLoop(ctx, interval) }
}

// ArchiverJob runs a on cronExpr. A nil archiver yields no job.
func ArchiverJob(a *Archiver, cronExpr string) func(context.Context) error {
	if a == nil {
		return nil
	}
	return func(ctx context.Context) error { return a.RunCron(ctx, cronExpr) }
}

// Jobs returns the registered job names in start order.
func (o *Orchestrator) Jobs() []string {
	names := make([]string, len(o.jobs))
	for i, j := range o.jobs {
		names[i] = j.Name
	}
	return names
}

// Run starts every job and waits. Shutdown through ctx is a clean stop; the
// first job to fail otherwise cancels the rest and its error is returned
// tagged with the job name.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting", slog.Any("jobs", o.Jobs()))

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range o.jobs {
		g.Go(func() error {
			err := job.Run(gctx)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				o.logger.Warn("pipeline job returned early", slog.String("job", job.Name))
				return nil
			}
			return fmt.Errorf("%s: %w", job.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
