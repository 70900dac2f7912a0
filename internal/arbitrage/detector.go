package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/catalog"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/quote"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/service"
)

// Executor runs a qualifying cycle against the exchange.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity, cycle domain.Cycle) (domain.ExecutionRun, error)
}

// CatalogSource yields the current catalog.
type CatalogSource interface {
	Current(ctx context.Context) (*catalog.Catalog, error)
}

// Detector evaluates every enumerated cycle against the latest quotes on each
// tick, records the qualifying ones and optionally hands the best one to the
// executor.
type Detector struct {
	catalog    CatalogSource
	enumerator *Enumerator
	evaluator  *Evaluator
	quotes     *quote.Store
	oppSvc     *service.OpportunityService
	executor   Executor
	logger     *slog.Logger

	trigger chan struct{}
	wg      sync.WaitGroup
}

// DetectorConfig configures the detector. Executor may be nil, in which case
// opportunities are only recorded.
type DetectorConfig struct {
	Catalog    CatalogSource
	Enumerator *Enumerator
	Evaluator  *Evaluator
	Quotes     *quote.Store
	OppSvc     *service.OpportunityService
	Executor   Executor
	Logger     *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		catalog:    cfg.Catalog,
		enumerator: cfg.Enumerator,
		evaluator:  cfg.Evaluator,
		quotes:     cfg.Quotes,
		oppSvc:     cfg.OppSvc,
		executor:   cfg.Executor,
		logger:     cfg.Logger.With(slog.String("component", "arb_detector")),
		trigger:    make(chan struct{}, 1),
	}
}

// Candidate is a cycle that cleared the threshold on a tick.
type Candidate struct {
	Cycle       domain.Cycle
	Evaluation  domain.Evaluation
	Opportunity domain.Opportunity
}

// Trigger requests an out-of-band tick. It never blocks; a pending request
// absorbs further ones.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run ticks every interval and on Trigger until ctx is cancelled. Tick
// errors are logged and never stop the loop.
func (d *Detector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("arb detector started", slog.Duration("interval", interval))
	defer d.logger.Info("arb detector stopped")
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.trigger:
		}
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("arb detector: tick failed", slog.String("error", err.Error()))
		}
	}
}

// Tick runs one detection pass and returns the recorded candidates, best
// first. Cycles with missing quotes are skipped.
func (d *Detector) Tick(ctx context.Context) ([]Candidate, error) {
	cat, err := d.catalog.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("arb detector: catalog: %w", err)
	}
	cycles := d.enumerator.Cycles(cat)
	snap := d.quotes.Snapshot()

	var found []Candidate
	skipped := 0
	for _, c := range cycles {
		eval, err := d.evaluator.Evaluate(c, snap)
		if err != nil {
			if errors.Is(err, domain.ErrDataUnavailable) {
				skipped++
				continue
			}
			d.logger.Warn("arb detector: evaluate failed",
				slog.String("cycle", c.Key()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !eval.Profitable {
			continue
		}
		found = append(found, Candidate{Cycle: c, Evaluation: eval})
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Evaluation.ProfitPercentage.GreaterThan(found[j].Evaluation.ProfitPercentage)
	})

	recorded := found[:0]
	for _, cand := range found {
		opp, err := d.oppSvc.Record(ctx, cand.Cycle, cand.Evaluation, d.evaluator.Threshold())
		if err != nil {
			d.logger.Warn("arb detector: record failed",
				slog.String("cycle", cand.Cycle.Key()),
				slog.String("error", err.Error()),
			)
			continue
		}
		cand.Opportunity = opp
		recorded = append(recorded, cand)
	}

	d.logger.Debug("arb detector: tick",
		slog.Int("cycles", len(cycles)),
		slog.Int("skipped", skipped),
		slog.Int("qualifying", len(recorded)),
	)

	if d.executor != nil && len(recorded) > 0 {
		best := recorded[0]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.execute(ctx, best)
		}()
	}
	return recorded, nil
}

func (d *Detector) execute(ctx context.Context, cand Candidate) {
	run, err := d.executor.Execute(ctx, cand.Opportunity, cand.Cycle)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrInsufficientCapital) {
			level = slog.LevelInfo
		}
		d.logger.Log(ctx, level, "arb detector: execution did not settle",
			slog.String("opp_id", cand.Opportunity.ID),
			slog.String("run_id", run.ID),
			slog.String("state", string(run.State)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Info("arb detector: execution settled",
		slog.String("opp_id", cand.Opportunity.ID),
		slog.String("run_id", run.ID),
		slog.String("final_amount", run.FinalAmount.String()),
	)
}

// Wait blocks until executions started by Tick have returned.
func (d *Detector) Wait() {
	d.wg.Wait()
}
