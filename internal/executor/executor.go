package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Exchange places market orders. Implemented by the binance client.
type Exchange interface {
	PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error)
	PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error)
}

// RiskChecker sizes a run against the start asset's vault.
type RiskChecker interface {
	PreTradeCheck(ctx context.Context, asset string) (decimal.Decimal, error)
}

// OpportunityMarker flags an opportunity once its run settles.
type OpportunityMarker interface {
	MarkExecuted(ctx context.Context, id string) error
}

// PriceSource gives the latest quote for a pair. Optional; without it the
// opportunity's recorded prices are used.
type PriceSource interface {
	Latest(pairID int64) (domain.Quote, bool)
}

// Publisher is the publish half of domain.SignalBus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Bus event names for terminal runs.
const (
	EventSettled = "execution_settled"
	EventPartial = "execution_partial"
	EventAborted = "execution_aborted"
)

// Config holds the executor's tunables.
type Config struct {
	FeeVaultAsset string
	OrderTimeout  time.Duration
	LockTTL       time.Duration
}

// Deps are the executor's collaborators. Prices, Bus and Opportunities may
// be nil.
type Deps struct {
	Exchange      Exchange
	Risk          RiskChecker
	Ledger        domain.LedgerStore
	Transactions  domain.TransactionStore
	Runs          domain.ExecutionStore
	Locks         domain.LockManager
	Opportunities OpportunityMarker
	Prices        PriceSource
	Bus           Publisher
}

// Executor runs a cycle's legs one after another against the exchange and
// settles the filled legs into the ledger. Every state change is persisted
// before the step it names begins.
type Executor struct {
	deps   Deps
	cfg    Config
	dedup  *Dedup
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(deps Deps, cfg Config, logger *slog.Logger) *Executor {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.FeeVaultAsset == "" {
		cfg.FeeVaultAsset = "BNB"
	}
	return &Executor{
		deps:   deps,
		cfg:    cfg,
		dedup:  NewDedup(cfg.LockTTL),
		logger: logger.With(slog.String("component", "executor")),
	}
}

// LegFill is one leg as the exchange executed it.
type LegFill struct {
	Leg    domain.Leg
	Side   domain.OrderSide
	Result domain.OrderResult
}

// InFlight returns the start assets with a run in progress.
func (e *Executor) InFlight() []string {
	return e.dedup.InFlight()
}

// Execute runs opp's cycle. The returned run carries the terminal state; the
// error is nil only when the run reached SETTLED.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity, cycle domain.Cycle) (domain.ExecutionRun, error) {
	if !cycle.Valid() {
		return domain.ExecutionRun{}, fmt.Errorf("executor: cycle %s: %w", cycle.Key(), domain.ErrInvalidOrder)
	}

	asset := cycle.StartAsset
	if !e.dedup.TryAcquire(asset) {
		return domain.ExecutionRun{}, fmt.Errorf("executor: run in flight for %s: %w", asset, domain.ErrLockHeld)
	}
	defer e.dedup.Release(asset)

	unlock, err := e.deps.Locks.Acquire(ctx, "capital:"+asset, e.cfg.LockTTL)
	if err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("executor: capital lock %s: %w", asset, err)
	}
	defer unlock()

	run := domain.ExecutionRun{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		CycleKey:      cycle.Key(),
		StartAsset:    cycle.StartAsset,
		EndAsset:      cycle.EndAsset,
		State:         domain.StateReserveCapital,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.deps.Runs.Create(ctx, run); err != nil {
		return run, fmt.Errorf("executor: create run: %w", err)
	}
	log := e.logger.With(slog.String("run_id", run.ID), slog.String("cycle", run.CycleKey))

	capital, err := e.deps.Risk.PreTradeCheck(ctx, asset)
	if err != nil {
		return e.abort(ctx, log, run, nil, err)
	}
	run.Capital = capital
	log.Info("capital reserved", slog.String("asset", asset), slog.String("capital", capital.String()))

	fills := make([]LegFill, 0, len(cycle.Legs))
	held, amount := asset, capital
	for i, leg := range cycle.Legs {
		if err := e.transition(ctx, &run, domain.LegState(i+1), leg.Symbol); err != nil {
			return e.abort(ctx, log, run, fills, err)
		}

		side, qty, err := e.legOrder(leg, held, amount, opp, i)
		if err != nil {
			return e.abort(ctx, log, run, fills, fmt.Errorf("leg %d: %w", i+1, err))
		}
		res, err := e.place(ctx, leg.Symbol, side, qty)
		if err != nil {
			// An expired or rejected order can still have filled part of its
			// quantity, and that part has moved capital on the venue.
			if res.ExecutedQty.IsPositive() {
				fills = append(fills, LegFill{Leg: leg, Side: side, Result: res})
			}
			return e.abort(ctx, log, run, fills, fmt.Errorf("leg %d %s %s: %w", i+1, side, leg.Symbol, err))
		}
		fills = append(fills, LegFill{Leg: leg, Side: side, Result: res})

		held, amount = leg.To, received(side, res)
		log.Info("leg filled",
			slog.Int("leg", i+1),
			slog.String("symbol", leg.Symbol),
			slog.String("side", string(side)),
			slog.String("executed_qty", res.ExecutedQty.String()),
			slog.String("received", amount.String()),
			slog.String("held", held),
		)
	}

	return e.Settle(ctx, run, fills)
}

// legOrder derives the side and quantity of one leg from the asset held
// going into it. Quantity is in the pair's base asset.
func (e *Executor) legOrder(leg domain.Leg, held string, amount decimal.Decimal, opp domain.Opportunity, i int) (domain.OrderSide, decimal.Decimal, error) {
	switch held {
	case leg.Quote:
		ask := e.askPrice(leg, opp, i)
		if !ask.IsPositive() {
			return "", decimal.Zero, fmt.Errorf("no ask price for %s: %w", leg.Symbol, domain.ErrDataUnavailable)
		}
		return domain.OrderSideBuy, amount.Div(ask), nil
	case leg.Base:
		return domain.OrderSideSell, amount, nil
	default:
		return "", decimal.Zero, fmt.Errorf("holding %s, pair %s trades %s/%s: %w",
			held, leg.Symbol, leg.Base, leg.Quote, domain.ErrInvalidOrder)
	}
}

func (e *Executor) askPrice(leg domain.Leg, opp domain.Opportunity, i int) decimal.Decimal {
	if e.deps.Prices != nil {
		if q, ok := e.deps.Prices.Latest(leg.PairID); ok && q.AskPrice.IsPositive() {
			return q.AskPrice
		}
	}
	if i < len(opp.Prices) {
		return opp.Prices[i]
	}
	return decimal.Zero
}

// place submits one order under the order timeout. There is no retry.
func (e *Executor) place(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal) (domain.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	var (
		res domain.OrderResult
		err error
	)
	if side == domain.OrderSideBuy {
		res, err = e.deps.Exchange.PlaceMarketBuy(ctx, symbol, qty)
	} else {
		res, err = e.deps.Exchange.PlaceMarketSell(ctx, symbol, qty)
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrExchangeTimeout) {
		err = fmt.Errorf("%w: %w", domain.ErrExchangeTimeout, err)
	}
	return res, err
}

// Settle persists every filled leg and applies the ledger deltas of a run
// whose legs all filled. It refuses a run already persisted as SETTLED, so a
// retried settle never moves capital twice.
func (e *Executor) Settle(ctx context.Context, run domain.ExecutionRun, fills []LegFill) (domain.ExecutionRun, error) {
	log := e.logger.With(slog.String("run_id", run.ID), slog.String("cycle", run.CycleKey))
	if len(fills) == 0 {
		return run, fmt.Errorf("executor: settle %s: no filled legs: %w", run.ID, domain.ErrInvalidOrder)
	}

	persisted, err := e.deps.Runs.GetByID(ctx, run.ID)
	if err != nil {
		return run, fmt.Errorf("executor: settle %s: %w", run.ID, err)
	}
	if persisted.State == domain.StateSettled {
		return persisted, fmt.Errorf("executor: settle %s: %w", run.ID, domain.ErrAlreadySettled)
	}
	run.State = persisted.State
	if err := e.transition(ctx, &run, domain.StateSettle, ""); err != nil {
		return run, fmt.Errorf("executor: settle %s: %w", run.ID, err)
	}

	first, last := fills[0], fills[len(fills)-1]
	firstSum, lastSum := Summarize(first.Result.Fills), Summarize(last.Result.Fills)
	debit := spent(first.Side, firstSum)
	credit := proceeds(last.Side, lastSum)
	profit := credit.Sub(debit)

	txIDs := make([]string, len(fills))
	for i, f := range fills {
		var p *decimal.Decimal
		if i == len(fills)-1 {
			p = &profit
		}
		st := settlement(run.ID, f, "SUCCESS", p)
		if err := e.deps.Transactions.Settle(ctx, st); err != nil {
			return e.stuck(ctx, log, run, fmt.Errorf("persist leg %d: %w", i+1, err))
		}
		txIDs[i] = st.Transaction.ID
	}

	if _, err := e.deps.Ledger.ApplyDelta(ctx, run.StartAsset, debit.Neg(), txIDs[0]); err != nil {
		return e.stuck(ctx, log, run, fmt.Errorf("debit %s: %w", run.StartAsset, err))
	}
	if _, err := e.deps.Ledger.ApplyDelta(ctx, run.EndAsset, credit, txIDs[len(txIDs)-1]); err != nil {
		return e.stuck(ctx, log, run, fmt.Errorf("credit %s: %w", run.EndAsset, err))
	}
	for i, f := range fills {
		if err := e.bookCommission(ctx, log, Summarize(f.Result.Fills), txIDs[i]); err != nil {
			return e.stuck(ctx, log, run, fmt.Errorf("fee leg %d: %w", i+1, err))
		}
	}

	if err := e.transition(ctx, &run, domain.StateSettled, ""); err != nil {
		return run, fmt.Errorf("executor: settle %s: %w", run.ID, err)
	}
	run.FinalAmount = credit
	if err := e.deps.Runs.SetResult(ctx, run.ID, run.Capital, credit, ""); err != nil {
		log.Warn("set run result failed", slog.String("error", err.Error()))
	}
	if e.deps.Opportunities != nil && run.OpportunityID != "" {
		if err := e.deps.Opportunities.MarkExecuted(ctx, run.OpportunityID); err != nil {
			log.Warn("mark opportunity executed failed", slog.String("error", err.Error()))
		}
	}

	log.Info("run settled",
		slog.String("spent", debit.String()),
		slog.String("received", credit.String()),
		slog.String("profit", profit.String()),
	)
	e.publish(ctx, run, EventSettled)
	return run, nil
}

// bookCommission debits a leg's commission from the vault of the asset it
// was charged in. Fills without a commission asset go to the fee vault. A
// commission in an asset that has no vault is logged and left unbooked
// rather than counted in another asset's units.
func (e *Executor) bookCommission(ctx context.Context, log *slog.Logger, sum domain.FillSummary, txID string) error {
	asset := sum.CommissionAsset
	if asset == "" {
		asset = e.cfg.FeeVaultAsset
	}
	_, err := e.deps.Ledger.ApplyDelta(ctx, asset, sum.TotalCommission.Neg(), txID)
	if errors.Is(err, domain.ErrLedgerNotFound) && asset != e.cfg.FeeVaultAsset {
		log.Warn("commission asset has no vault",
			slog.String("asset", asset),
			slog.String("commission", sum.TotalCommission.String()),
			slog.String("tx_id", txID),
		)
		return nil
	}
	return err
}

// abort ends a run that failed before SETTLE. With no filled legs the run is
// ABORTED and nothing is persisted beyond the run itself. With filled legs it
// is PARTIAL: the legs are recorded for the trail, the ledger is left alone,
// and an operator has to unwind by hand.
func (e *Executor) abort(ctx context.Context, log *slog.Logger, run domain.ExecutionRun, fills []LegFill, cause error) (domain.ExecutionRun, error) {
	to, event := domain.StateAborted, EventAborted
	if len(fills) > 0 {
		to, event = domain.StatePartial, EventPartial
		for i, f := range fills {
			if err := e.deps.Transactions.Settle(ctx, settlement(run.ID, f, "PARTIAL", nil)); err != nil {
				log.Error("persist partial leg failed", slog.Int("leg", i+1), slog.String("error", err.Error()))
			}
		}
	}

	run.Reason = cause.Error()
	if err := e.transition(ctx, &run, to, run.Reason); err != nil {
		log.Error("terminal transition failed", slog.String("to", string(to)), slog.String("error", err.Error()))
	}
	if len(fills) > 0 {
		last := fills[len(fills)-1]
		run.FinalAmount = received(last.Side, last.Result)
	}
	if err := e.deps.Runs.SetResult(ctx, run.ID, run.Capital, run.FinalAmount, run.Reason); err != nil {
		log.Warn("set run result failed", slog.String("error", err.Error()))
	}

	level := slog.LevelWarn
	if to == domain.StatePartial {
		level = slog.LevelError
	}
	log.Log(ctx, level, "run ended early",
		slog.String("state", string(to)),
		slog.Int("filled_legs", len(fills)),
		slog.String("error", cause.Error()),
	)
	e.publish(ctx, run, event)
	return run, fmt.Errorf("executor: run %s %s: %w", run.ID, to, cause)
}

// stuck reports a settle that failed part way. The run stays in SETTLE with
// the reason recorded; it is not retried automatically.
func (e *Executor) stuck(ctx context.Context, log *slog.Logger, run domain.ExecutionRun, cause error) (domain.ExecutionRun, error) {
	run.Reason = cause.Error()
	if err := e.deps.Runs.SetResult(ctx, run.ID, run.Capital, decimal.Zero, run.Reason); err != nil {
		log.Warn("set run result failed", slog.String("error", err.Error()))
	}
	log.Error("settle failed", slog.String("error", cause.Error()))
	e.publish(ctx, run, EventPartial)
	return run, fmt.Errorf("executor: settle %s: %w", run.ID, cause)
}

func (e *Executor) transition(ctx context.Context, run *domain.ExecutionRun, to domain.ExecutionState, detail string) error {
	if err := e.deps.Runs.Transition(ctx, run.ID, run.State, to, detail); err != nil {
		return err
	}
	run.State = to
	return nil
}

func (e *Executor) publish(ctx context.Context, run domain.ExecutionRun, event string) {
	if e.deps.Bus == nil {
		return
	}
	payload, _ := json.Marshal(domain.ExecutionEvent{
		Event:         event,
		RunID:         run.ID,
		OpportunityID: run.OpportunityID,
		Cycle:         run.CycleKey,
		StartAsset:    run.StartAsset,
		EndAsset:      run.EndAsset,
		State:         run.State,
		Reason:        run.Reason,
		Capital:       run.Capital.String(),
		FinalAmount:   run.FinalAmount.String(),
		At:            time.Now().UTC(),
	})
	if err := e.deps.Bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
		e.logger.Warn("publish execution event failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
}

// settlement builds the Transaction, Order and Fee rows of one filled leg.
func settlement(runID string, f LegFill, result string, profit *decimal.Decimal) domain.Settlement {
	sum := Summarize(f.Result.Fills)
	pairID := f.Leg.PairID
	execID := runID
	typ := domain.TransactionBuy
	if f.Side == domain.OrderSideSell {
		typ = domain.TransactionSell
	}
	at := f.Result.TransactTime
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx := domain.Transaction{
		ID:            uuid.NewString(),
		Amount:        sum.TotalQty,
		PricePerUnit:  sum.WeightedPrice,
		Status:        domain.TransactionFilled,
		Type:          typ,
		TradingPairID: &pairID,
		Asset:         f.Leg.Base,
		Result:        &result,
		Profit:        profit,
		ExecutionID:   &execID,
		CreatedAt:     at,
	}
	order := domain.Order{
		ID:              uuid.NewString(),
		TransactionID:   tx.ID,
		ExchangeOrderID: f.Result.ExchangeOrderID,
		Symbol:          f.Leg.Symbol,
		Side:            f.Side,
		RequestedQty:    f.Result.RequestedQty,
		ExecutedQty:     f.Result.ExecutedQty,
		FillsPrice:      sum.WeightedPrice,
		FillsQty:        sum.TotalQty,
		FillsCommission: sum.TotalCommission,
		CommissionAsset: sum.CommissionAsset,
		LastTradeID:     sum.LastTradeID,
		CreatedAt:       at,
	}
	fee := domain.Fee{
		ID:      uuid.NewString(),
		OrderID: order.ID,
		Asset:   sum.CommissionAsset,
		Amount:  sum.TotalCommission.Neg(),
	}
	return domain.Settlement{Transaction: tx, Order: order, Fee: fee}
}
