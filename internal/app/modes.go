package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/arbitrage"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/catalog"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/executor"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/feed"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/notify"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/pipeline"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/quote"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/handler"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/ws"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/service"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// wsReplay is how many recent opportunities a new websocket client receives.
const wsReplay = 20

// engine is the detection side of a running process: the catalog, the live
// quote feed, the detector and, when enabled, the executor.
type engine struct {
	catalog  *catalog.Service
	quotes   *quote.Store
	feed     *feed.BinanceFeed
	detector *arbitrage.Detector
	executor *executor.Executor
	oppSvc   *service.OpportunityService
}

// MonitorMode detects and records opportunities without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, false, false)
}

// ArbitrageMode detects opportunities and executes the best one per tick
// when arbitrage.auto_execute is on.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode",
		slog.Bool("auto_execute", a.cfg.Arbitrage.AutoExecute),
	)
	return a.runEngine(ctx, deps, a.cfg.Arbitrage.AutoExecute, false)
}

// FullMode runs arbitrage mode plus the archive job, the notification relay
// and the HTTP server regardless of server.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runEngine(ctx, deps, a.cfg.Arbitrage.AutoExecute, true)
}

// ServerMode serves the API over the stores only. No feed or detector runs,
// so catalog refreshes do not trigger a tick.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	catSvc := catalog.NewService(deps.CatalogStore, deps.CatalogCache, a.catalogTTL(), a.logger)
	oppSvc := service.NewOpportunityService(deps.OpportunityStore, deps.SignalBus, deps.AuditStore, a.logger)
	a.startHTTPServer(ctx, g, deps, &engine{catalog: catSvc, oppSvc: oppSvc})
	return ignoreCanceled(g.Wait())
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, execute, full bool) error {
	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.buildEngine(ctx, deps, execute)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return eng.feed.Run(ctx)
	})
	g.Go(func() error {
		return eng.detector.Run(ctx, a.cfg.Arbitrage.TickInterval.Duration)
	})

	recorder := pipeline.NewQuoteRecorder(eng.quotes, deps.QuoteStore, deps.QuoteCache, eng.detector, a.logger)
	var archiver *pipeline.Archiver
	if full && a.cfg.Pipeline.ArchiveEnabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
	}
	orch := pipeline.NewOrchestrator(a.logger).
		Add("quote_recorder", pipeline.RecorderJob(recorder, a.cfg.Pipeline.QuoteRecordInterval.Duration)).
		Add("archiver", pipeline.ArchiverJob(archiver, a.cfg.Pipeline.ArchiveCron))
	if full || deps.Notifier.Enabled(notify.EventOpportunityDetected) || deps.Notifier.Enabled(notify.EventExecutionSettled) {
		orch.Add("notify_relay", notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger).Run)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if full || a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return ignoreCanceled(g.Wait())
}

// buildEngine loads the catalog, warms the quote store from the last
// persisted quotes and assembles the detector.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies, execute bool) (*engine, error) {
	arb := a.cfg.Arbitrage

	catSvc := catalog.NewService(deps.CatalogStore, deps.CatalogCache, a.catalogTTL(), a.logger)
	if _, err := catSvc.Current(ctx); err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}

	quotes := quote.NewStore()
	if latest, err := deps.QuoteStore.LatestPerPair(ctx); err != nil {
		a.logger.WarnContext(ctx, "app: quote warm-up failed", slog.String("error", err.Error()))
	} else {
		quotes.Seed(latest)
	}

	evaluator, err := arbitrage.NewEvaluator(arbitrage.EvaluatorConfig{
		Notional:            decimal.NewFromFloat(arb.Notional),
		MinProfitThreshold:  decimal.NewFromFloat(arb.MinProfitThreshold),
		FeeRate:             decimal.NewFromFloat(arb.FeeRate),
		FeeRateTriangular:   decimal.NewFromFloat(arb.FeeRateTriangular),
		FeeRateQuadrangular: decimal.NewFromFloat(arb.FeeRateQuadrangular),
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	oppSvc := service.NewOpportunityService(deps.OpportunityStore, deps.SignalBus, deps.AuditStore, a.logger)

	eng := &engine{
		catalog: catSvc,
		quotes:  quotes,
		feed:    feed.NewBinanceFeed(catSvc, deps.BinanceWS, quotes, time.Minute, a.logger),
		oppSvc:  oppSvc,
	}

	detCfg := arbitrage.DetectorConfig{
		Catalog:    catSvc,
		Enumerator: arbitrage.NewEnumerator(arb.Quadrangular),
		Evaluator:  evaluator,
		Quotes:     quotes,
		OppSvc:     oppSvc,
		Logger:     a.logger,
	}
	if execute {
		risk := service.NewRiskService(deps.LedgerStore, service.RiskConfig{
			MinPositionSize: decimal.NewFromFloat(arb.MinPositionSize),
			MaxPositionSize: decimal.NewFromFloat(arb.MaxPositionSize),
		}, a.logger)
		eng.executor = executor.NewExecutor(executor.Deps{
			Exchange:      deps.Binance,
			Risk:          risk,
			Ledger:        deps.LedgerStore,
			Transactions:  deps.TransactionStore,
			Runs:          deps.ExecutionStore,
			Locks:         deps.LockManager,
			Opportunities: oppSvc,
			Prices:        quotes,
			Bus:           deps.SignalBus,
		}, executor.Config{
			FeeVaultAsset: arb.FeeVaultAsset,
			OrderTimeout:  arb.OrderTimeout.Duration,
			LockTTL:       arb.LockTTL.Duration,
		}, a.logger)
		detCfg.Executor = eng.executor
	}
	eng.detector = arbitrage.NewDetector(detCfg)

	return eng, nil
}

// startHTTPServer builds the handlers over eng and runs the server in g.
// eng's feed and detector may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	ledgerSvc := service.NewLedgerService(deps.LedgerStore, deps.TransactionStore, deps.AuditStore, a.logger)

	status := handler.StatusSource{}
	if eng.quotes != nil {
		status.LastQuote = eng.quotes.LastUpdate
		status.Quotes = eng.quotes.Len
	}
	if eng.executor != nil {
		status.InFlight = eng.executor.InFlight
	}

	catHandler := handler.NewCatalogHandler(eng.catalog, a.logger)
	if eng.detector != nil {
		catHandler.WithTrigger(eng.detector.Trigger)
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, a.startedAt, status),
		Opportunities: handler.NewOpportunityHandler(eng.oppSvc, a.logger),
		Executions:    handler.NewExecutionHandler(deps.ExecutionStore, a.logger).WithTransactions(deps.TransactionStore),
		Vaults:        handler.NewVaultHandler(ledgerSvc, a.logger),
		Statistics:    handler.NewStatisticsHandler(deps.TransactionStore, deps.ErrorLogStore, a.logger).WithAudit(deps.AuditStore),
		Catalog:       catHandler,
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
		History:   deps.SignalBus,
		Replay:    wsReplay,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)
	g.Go(func() error {
		return srv.Run(ctx, shutdownGrace)
	})
}

func (a *App) catalogTTL() time.Duration {
	return time.Duration(a.cfg.Redis.CatalogTTLHours) * time.Hour
}
