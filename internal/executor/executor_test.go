package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/service"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- fakes ---

type orderCall struct {
	Side   domain.OrderSide
	Symbol string
	Qty    decimal.Decimal
}

type scriptedExchange struct {
	mu      sync.Mutex
	calls   []orderCall
	results []domain.OrderResult
	errs    []error
}

func (x *scriptedExchange) next(side domain.OrderSide, symbol string, qty decimal.Decimal) (domain.OrderResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	i := len(x.calls)
	x.calls = append(x.calls, orderCall{Side: side, Symbol: symbol, Qty: qty})
	var res domain.OrderResult
	if i < len(x.results) {
		res = x.results[i]
		res.Symbol, res.Side, res.RequestedQty = symbol, side, qty
	}
	if i < len(x.errs) && x.errs[i] != nil {
		return res, x.errs[i]
	}
	if i >= len(x.results) {
		return domain.OrderResult{}, fmt.Errorf("unexpected order %d: %w", i, domain.ErrExchangeRejected)
	}
	return res, nil
}

func (x *scriptedExchange) PlaceMarketBuy(_ context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error) {
	return x.next(domain.OrderSideBuy, symbol, qty)
}

func (x *scriptedExchange) PlaceMarketSell(_ context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error) {
	return x.next(domain.OrderSideSell, symbol, qty)
}

type memLedger struct {
	mu        sync.Mutex
	vaults    map[string]decimal.Decimal
	movements []domain.VaultMovement
}

func newMemLedger(balances map[string]string) *memLedger {
	l := &memLedger{vaults: map[string]decimal.Decimal{}}
	for a, v := range balances {
		l.vaults[a] = dec(v)
	}
	return l
}

func (l *memLedger) balance(asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vaults[asset]
}

func (l *memLedger) Get(_ context.Context, asset string) (domain.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amt, ok := l.vaults[asset]
	if !ok {
		return domain.Vault{}, domain.ErrLedgerNotFound
	}
	return domain.Vault{Asset: asset, Amount: amt}, nil
}

func (l *memLedger) List(context.Context) ([]domain.Vault, error) { return nil, nil }

func (l *memLedger) ApplyDelta(_ context.Context, asset string, delta decimal.Decimal, txID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok := l.vaults[asset]
	if !ok {
		return decimal.Zero, domain.ErrLedgerNotFound
	}
	l.vaults[asset] = old.Add(delta)
	l.movements = append(l.movements, domain.VaultMovement{
		Asset: asset, TransactionID: txID, OldAmount: old, NewAmount: l.vaults[asset], Difference: delta,
	})
	return l.vaults[asset], nil
}

func (l *memLedger) Debit(context.Context, string, decimal.Decimal, domain.Transaction) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("executor never debits directly: %w", domain.ErrInvalidOrder)
}

func (l *memLedger) SetAmount(context.Context, string, decimal.Decimal, domain.Transaction) (domain.VaultMovement, error) {
	return domain.VaultMovement{}, fmt.Errorf("executor never resets vaults: %w", domain.ErrInvalidOrder)
}

func (l *memLedger) CheckCapital(ctx context.Context, asset string, required decimal.Decimal) (domain.Vault, error) {
	v, err := l.Get(ctx, asset)
	if err != nil {
		return v, err
	}
	if v.Amount.LessThan(required) {
		return v, domain.ErrInsufficientCapital
	}
	return v, nil
}

func (l *memLedger) Movements(context.Context, string, domain.ListOpts) ([]domain.VaultMovement, error) {
	return nil, nil
}

func (l *memLedger) MovementsBefore(context.Context, time.Time) ([]domain.VaultMovement, error) {
	return nil, nil
}

type memTxs struct {
	mu      sync.Mutex
	settled []domain.Settlement
}

func (m *memTxs) Create(context.Context, domain.Transaction) error { return nil }

func (m *memTxs) Settle(_ context.Context, s domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, s)
	return nil
}

func (m *memTxs) GetByID(context.Context, string) (domain.Transaction, error) {
	return domain.Transaction{}, domain.ErrNotFound
}

func (m *memTxs) ListByExecution(context.Context, string) ([]domain.Transaction, error) {
	return nil, nil
}

func (m *memTxs) DailyProfit(context.Context, domain.ListOpts) ([]domain.DailyProfit, error) {
	return nil, nil
}

// memRuns mirrors the postgres guard: a SETTLED run never transitions.
type memRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.ExecutionRun
}

func newMemRuns() *memRuns { return &memRuns{runs: map[string]*domain.ExecutionRun{}} }

func (m *memRuns) Create(_ context.Context, run domain.ExecutionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := run
	m.runs[run.ID] = &r
	return nil
}

func (m *memRuns) Transition(_ context.Context, id string, from, to domain.ExecutionState, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.State == domain.StateSettled {
		return domain.ErrAlreadySettled
	}
	if r.State != from {
		return fmt.Errorf("run is %s, not %s", r.State, from)
	}
	r.State = to
	r.Transitions = append(r.Transitions, domain.ExecutionTransition{RunID: id, From: from, To: to, Detail: detail})
	return nil
}

func (m *memRuns) SetResult(_ context.Context, id string, capital, final decimal.Decimal, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.Capital, r.FinalAmount, r.Reason = capital, final, reason
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id string) (domain.ExecutionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ExecutionRun{}, domain.ErrNotFound
	}
	return *r, nil
}

func (m *memRuns) ListRecent(context.Context, int) ([]domain.ExecutionRun, error) { return nil, nil }

type noopLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *noopLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type markSpy struct{ ids []string }

func (m *markSpy) MarkExecuted(_ context.Context, id string) error {
	m.ids = append(m.ids, id)
	return nil
}

type busSpy struct {
	mu     sync.Mutex
	events []domain.ExecutionEvent
}

func (b *busSpy) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != domain.ChannelExecutions {
		return nil
	}
	var evt domain.ExecutionEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

// --- fixtures ---

type harness struct {
	exec     *Executor
	exchange *scriptedExchange
	ledger   *memLedger
	txs      *memTxs
	runs     *memRuns
	marks    *markSpy
	bus      *busSpy
}

func newHarness(t *testing.T, balances map[string]string, risk service.RiskConfig) *harness {
	t.Helper()
	h := &harness{
		exchange: &scriptedExchange{},
		ledger:   newMemLedger(balances),
		txs:      &memTxs{},
		runs:     newMemRuns(),
		marks:    &markSpy{},
		bus:      &busSpy{},
	}
	h.exec = NewExecutor(Deps{
		Exchange:      h.exchange,
		Risk:          service.NewRiskService(h.ledger, risk, quietLogger()),
		Ledger:        h.ledger,
		Transactions:  h.txs,
		Runs:          h.runs,
		Locks:         &noopLocks{},
		Opportunities: h.marks,
		Bus:           h.bus,
	}, Config{FeeVaultAsset: "BNB", OrderTimeout: time.Second}, quietLogger())
	return h
}

func ethCycle() domain.Cycle {
	return domain.Cycle{
		Kind:       domain.CycleTriangular,
		StartAsset: "USDT",
		EndAsset:   "USDC",
		Legs: []domain.Leg{
			{PairID: 1, Symbol: "ETHUSDT", From: "USDT", To: "ETH", Base: "ETH", Quote: "USDT", Direction: domain.BuyBase},
			{PairID: 2, Symbol: "ETHUSDC", From: "ETH", To: "USDC", Base: "ETH", Quote: "USDC", Direction: domain.SellBase},
		},
	}
}

func ethOpportunity() domain.Opportunity {
	return domain.Opportunity{ID: "opp-1", Prices: []decimal.Decimal{dec("2000"), dec("2010")}}
}

func fill(price, qty, commission string, tradeID int64) domain.Fill {
	return domain.Fill{Price: dec(price), Qty: dec(qty), Commission: dec(commission), CommissionAsset: "BNB", TradeID: tradeID}
}

// --- tests ---

func TestSummarizeWeightsPrice(t *testing.T) {
	s := Summarize([]domain.Fill{
		fill("2000", "1", "0.001", 10),
		fill("2003", "3", "0.002", 11),
	})
	assert.True(t, s.TotalQty.Equal(dec("4")))
	assert.True(t, s.WeightedPrice.Equal(dec("2002.25")), s.WeightedPrice.String())
	assert.True(t, s.TotalCommission.Equal(dec("0.003")))
	assert.Equal(t, "BNB", s.CommissionAsset)
	assert.Equal(t, int64(11), s.LastTradeID)

	assert.True(t, Summarize(nil).TotalQty.IsZero())
}

func TestExecuteInsufficientCapitalHasNoSideEffects(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "1000", "USDC": "0", "BNB": "1"},
		service.RiskConfig{MinPositionSize: dec("2000")})

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)

	assert.Equal(t, domain.StateAborted, run.State)
	assert.Empty(t, h.ledger.movements, "no vault movement on a capital abort")
	assert.Empty(t, h.exchange.calls)
	assert.Empty(t, h.txs.settled)

	persisted, err := h.runs.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAborted, persisted.State)
	require.Len(t, h.bus.events, 1)
	assert.Equal(t, EventAborted, h.bus.events[0].Event)
}

func TestExecuteUsesExecutedQtyForNextLeg(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "84000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	h.exchange.results = []domain.OrderResult{
		{
			ExchangeOrderID:     "1",
			Status:              "FILLED",
			ExecutedQty:         dec("41.9"),
			CummulativeQuoteQty: dec("83800"),
			Fills:               []domain.Fill{fill("2000", "41.9", "0.01", 100)},
		},
		{
			ExchangeOrderID:     "2",
			Status:              "FILLED",
			ExecutedQty:         dec("41.9"),
			CummulativeQuoteQty: dec("84219"),
			Fills:               []domain.Fill{fill("2010", "41.9", "0.01", 200)},
		},
	}

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.NoError(t, err)
	require.Len(t, h.exchange.calls, 2)

	assert.Equal(t, domain.OrderSideBuy, h.exchange.calls[0].Side)
	assert.True(t, h.exchange.calls[0].Qty.Equal(dec("42")), "leg 1 buys capital/ask")
	assert.Equal(t, domain.OrderSideSell, h.exchange.calls[1].Side)
	assert.True(t, h.exchange.calls[1].Qty.Equal(dec("41.9")), "leg 2 sells what leg 1 executed, got %s", h.exchange.calls[1].Qty)

	assert.Equal(t, domain.StateSettled, run.State)
	assert.True(t, run.Capital.Equal(dec("84000")))
	assert.True(t, run.FinalAmount.Equal(dec("84219")))

	assert.True(t, h.ledger.balance("USDT").Equal(dec("200")), h.ledger.balance("USDT").String())
	assert.True(t, h.ledger.balance("USDC").Equal(dec("84219")))
	assert.True(t, h.ledger.balance("BNB").Equal(dec("0.98")))

	require.Len(t, h.txs.settled, 2)
	first, last := h.txs.settled[0], h.txs.settled[1]
	assert.Equal(t, first.Transaction.ID, h.ledger.movements[0].TransactionID, "debit tied to the first leg")
	assert.Equal(t, last.Transaction.ID, h.ledger.movements[1].TransactionID, "credit tied to the last leg")
	assert.Equal(t, domain.TransactionBuy, first.Transaction.Type)
	assert.Equal(t, domain.TransactionSell, last.Transaction.Type)
	assert.True(t, first.Fee.Amount.Equal(dec("-0.01")))
	require.NotNil(t, last.Transaction.Profit)
	assert.True(t, last.Transaction.Profit.Equal(dec("419")))
	assert.Equal(t, run.ID, *first.Transaction.ExecutionID)

	assert.Equal(t, []string{"opp-1"}, h.marks.ids)
	require.Len(t, h.bus.events, 1)
	assert.Equal(t, EventSettled, h.bus.events[0].Event)

	persisted, _ := h.runs.GetByID(context.Background(), run.ID)
	var states []domain.ExecutionState
	for _, tr := range persisted.Transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []domain.ExecutionState{
		domain.StateLeg1, domain.StateLeg2, domain.StateSettle, domain.StateSettled,
	}, states)
}

func TestExecutePartialLeavesLedgerAlone(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "1000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	h.exchange.results = []domain.OrderResult{{
		ExchangeOrderID: "1",
		ExecutedQty:     dec("0.5"),
		Fills:           []domain.Fill{fill("2000", "0.5", "0.0001", 1)},
	}}
	h.exchange.errs = []error{nil, fmt.Errorf("binance: HTTP 400: %w", domain.ErrExchangeRejected)}

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.ErrorIs(t, err, domain.ErrExchangeRejected)

	assert.Equal(t, domain.StatePartial, run.State)
	assert.Empty(t, h.ledger.movements, "partial runs apply no ledger deltas")
	require.Len(t, h.txs.settled, 1, "the filled leg is still recorded")
	assert.Equal(t, "PARTIAL", *h.txs.settled[0].Transaction.Result)
	assert.Contains(t, run.Reason, "leg 2")
	assert.True(t, run.FinalAmount.Equal(dec("0.5")), "final amount is what is held")

	require.Len(t, h.bus.events, 1)
	assert.Equal(t, EventPartial, h.bus.events[0].Event)
	assert.Equal(t, domain.StatePartial, h.bus.events[0].State)
	assert.Empty(t, h.marks.ids)
}

func TestExecuteExpiredFirstLegIsPartial(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "1000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	h.exchange.results = []domain.OrderResult{{
		ExchangeOrderID: "9",
		Status:          "EXPIRED",
		ExecutedQty:     dec("0.3"),
		Fills:           []domain.Fill{fill("2000", "0.3", "0.0001", 7)},
	}}
	h.exchange.errs = []error{fmt.Errorf("binance: order 9 status EXPIRED: %w", domain.ErrExchangeRejected)}

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.ErrorIs(t, err, domain.ErrExchangeRejected)

	assert.Equal(t, domain.StatePartial, run.State)
	require.Len(t, h.exchange.calls, 1, "no further legs after a failed order")
	require.Len(t, h.txs.settled, 1, "the filled part of the order is recorded")
	assert.True(t, h.txs.settled[0].Order.ExecutedQty.Equal(dec("0.3")))
	assert.Equal(t, "PARTIAL", *h.txs.settled[0].Transaction.Result)
	assert.Empty(t, h.ledger.movements)
	assert.True(t, run.FinalAmount.Equal(dec("0.3")))

	require.Len(t, h.bus.events, 1)
	assert.Equal(t, EventPartial, h.bus.events[0].Event)
}

func TestSettleBooksCommissionInItsOwnAsset(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "2000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	usdcFee := fill("2010", "1", "2.01", 2)
	usdcFee.CommissionAsset = "USDC"
	ethFee := fill("2000", "1", "0.001", 1)
	ethFee.CommissionAsset = "ETH"
	h.exchange.results = []domain.OrderResult{
		{ExecutedQty: dec("1"), Fills: []domain.Fill{ethFee}},
		{ExecutedQty: dec("1"), CummulativeQuoteQty: dec("2010"), Fills: []domain.Fill{usdcFee}},
	}

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, run.State)

	assert.True(t, h.ledger.balance("BNB").Equal(dec("1")), "BNB untouched by non-BNB commissions")
	assert.True(t, h.ledger.balance("USDC").Equal(dec("2007.99")), h.ledger.balance("USDC").String())
	require.Len(t, h.ledger.movements, 3, "ETH has no vault, so its commission is not booked")
	assert.Equal(t, "USDC", h.ledger.movements[2].Asset)
	assert.True(t, h.ledger.movements[2].Difference.Equal(dec("-2.01")))
}

func TestExecuteFirstLegTimeoutAborts(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "1000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	h.exchange.errs = []error{fmt.Errorf("binance: %w", domain.ErrExchangeTimeout)}

	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.ErrorIs(t, err, domain.ErrExchangeTimeout)
	assert.Equal(t, domain.StateAborted, run.State)
	assert.Empty(t, h.txs.settled)
	assert.Empty(t, h.ledger.movements)
}

func TestSettleRefusesSettledRun(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "2000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	h.exchange.results = []domain.OrderResult{
		{ExecutedQty: dec("1"), Fills: []domain.Fill{fill("2000", "1", "0", 1)}},
		{ExecutedQty: dec("1"), CummulativeQuoteQty: dec("2010"), Fills: []domain.Fill{fill("2010", "1", "0", 2)}},
	}
	run, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.NoError(t, err)
	moves := len(h.ledger.movements)

	fills := []LegFill{
		{Leg: ethCycle().Legs[0], Side: domain.OrderSideBuy, Result: h.exchange.results[0]},
		{Leg: ethCycle().Legs[1], Side: domain.OrderSideSell, Result: h.exchange.results[1]},
	}
	_, err = h.exec.Settle(context.Background(), run, fills)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Len(t, h.ledger.movements, moves, "a second settle moves nothing")
	assert.Len(t, h.txs.settled, 2)
}

func TestExecuteRejectsConcurrentRunOnSameAsset(t *testing.T) {
	h := newHarness(t, map[string]string{"USDT": "1000", "USDC": "0", "BNB": "1"}, service.RiskConfig{})
	require.True(t, h.exec.dedup.TryAcquire("USDT"))

	_, err := h.exec.Execute(context.Background(), ethOpportunity(), ethCycle())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, h.exchange.calls)

	h.exec.dedup.Release("USDT")
	assert.Empty(t, h.exec.dedup.InFlight())
}

func TestLegOrderDerivesSide(t *testing.T) {
	e := NewExecutor(Deps{}, Config{}, quietLogger())
	leg := ethCycle().Legs[0]
	opp := ethOpportunity()

	side, qty, err := e.legOrder(leg, "USDT", dec("1000"), opp, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideBuy, side)
	assert.True(t, qty.Equal(dec("0.5")))

	side, qty, err = e.legOrder(leg, "ETH", dec("0.5"), opp, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideSell, side)
	assert.True(t, qty.Equal(dec("0.5")))

	_, _, err = e.legOrder(leg, "BTC", dec("1"), opp, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, _, err = e.legOrder(leg, "USDT", dec("1"), domain.Opportunity{}, 0)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestDedupExpiresAbandonedEntries(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	require.True(t, d.TryAcquire("USDT"))
	assert.False(t, d.TryAcquire("USDT"))
	assert.True(t, d.TryAcquire("USDC"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.TryAcquire("USDT"), "stale entry is reclaimed")
}
