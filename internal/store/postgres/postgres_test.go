package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := startPostgres(ctx)
	if err != nil {
		log.Printf("postgres container unavailable, store tests will skip: %s", err)
		os.Exit(m.Run())
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	client, err := New(ctx, ClientConfig{
		Host:     host,
		Port:     port.Int(),
		Database: "testdb",
		User:     "testuser",
		Password: "testpassword",
	})
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	if err := client.RunMigrations(ctx); err != nil {
		log.Fatalf("could not run migrations: %s", err)
	}
	pool = client.Pool()

	code := m.Run()

	client.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("could not stop postgres container: %s", err)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (c testcontainers.Container, err error) {
	// The docker provider panics when no daemon socket can be found.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker provider: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

func requireDB(t *testing.T) {
	t.Helper()
	if pool == nil {
		t.Skip("postgres container not available")
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newVault creates a vault with a unique asset name so tests do not share rows.
func newVault(t *testing.T, amount string) string {
	t.Helper()
	asset := "T" + uuid.NewString()[:8]
	_, err := pool.Exec(context.Background(), `INSERT INTO vaults (asset, amount) VALUES ($1, $2)`, asset, amount)
	require.NoError(t, err)
	return asset
}

func newTransaction(t *testing.T, typ domain.TransactionType) string {
	t.Helper()
	id := uuid.NewString()
	err := NewTransactionStore(pool).Create(context.Background(), domain.Transaction{
		ID:     id,
		Amount: dec("0"),
		Status: domain.TransactionCompleted,
		Type:   typ,
	})
	require.NoError(t, err)
	return id
}

func countMovements(t *testing.T, asset string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM vault_movements m JOIN vaults v ON v.id = m.vault_id WHERE v.asset = $1`, asset,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestDSNEscapesCredentials(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss/word", Database: "cryptobae"})
	assert.Equal(t, "postgres://bot:p%40ss%2Fword@db:5432/cryptobae?sslmode=disable", got)

	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	client := &Client{pool: pool}

	require.NoError(t, client.RunMigrations(ctx))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)

	_, err := pool.Exec(ctx, `UPDATE schema_migrations SET checksum = 'stale' WHERE filename = '0002_seed.sql'`)
	require.NoError(t, err)
	err = client.RunMigrations(ctx)
	assert.ErrorIs(t, err, ErrMigrationChanged)

	_, err = pool.Exec(ctx, `UPDATE schema_migrations SET checksum = $1 WHERE filename = '0002_seed.sql'`, seedChecksum(t))
	require.NoError(t, err)
}

func seedChecksum(t *testing.T) string {
	t.Helper()
	body, err := migrationsFS.ReadFile("migrations/0002_seed.sql")
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestCatalogStoreReadsSeed(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewCatalogStore(pool)

	assets, err := store.ListAssets(ctx)
	require.NoError(t, err)
	kinds := map[string]domain.AssetKind{}
	for _, a := range assets {
		kinds[a.Symbol] = a.Kind
	}
	assert.Equal(t, domain.AssetKindStablecoin, kinds["USDT"])
	assert.Equal(t, domain.AssetKindCoin, kinds["ETH"])

	pairs, err := store.ListPairs(ctx)
	require.NoError(t, err)
	var found bool
	for _, p := range pairs {
		if p.Symbol == "ETHBTC" {
			found = true
			assert.Equal(t, "ETH", p.BaseSymbol)
			assert.Equal(t, "BTC", p.QuoteSymbol)
		}
	}
	assert.True(t, found)
}

func TestApplyDeltaConcurrentWriters(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "100")
	txID := newTransaction(t, domain.TransactionDeposit)

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ApplyDelta(ctx, asset, dec("1.5"), txID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := store.Get(ctx, asset)
	require.NoError(t, err)
	assert.True(t, dec("160").Equal(v.Amount), "got %s", v.Amount)
	assert.Equal(t, writers, countMovements(t, asset))
}

func TestApplyDeltaZeroStillWritesMovement(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "42")
	txID := newTransaction(t, domain.TransactionDeposit)

	got, err := store.ApplyDelta(ctx, asset, dec("-0"), txID)
	require.NoError(t, err)
	assert.True(t, dec("42").Equal(got))

	moves, err := store.Movements(ctx, asset, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.True(t, moves[0].Difference.IsZero())
	assert.Equal(t, "0", moves[0].Difference.String())
	assert.True(t, moves[0].OldAmount.Equal(moves[0].NewAmount))
	assert.Equal(t, txID, moves[0].TransactionID)
}

func TestApplyDeltaRecordsOldAndNew(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "10")
	txID := newTransaction(t, domain.TransactionWithdrawal)

	got, err := store.ApplyDelta(ctx, asset, dec("-2.25"), txID)
	require.NoError(t, err)
	assert.True(t, dec("7.75").Equal(got))

	moves, err := store.Movements(ctx, asset, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.True(t, dec("10").Equal(moves[0].OldAmount))
	assert.True(t, dec("7.75").Equal(moves[0].NewAmount))
	assert.True(t, dec("-2.25").Equal(moves[0].Difference))
	assert.Equal(t, asset, moves[0].Asset)
}

func TestApplyDeltaUnknownAsset(t *testing.T) {
	requireDB(t)
	txID := newTransaction(t, domain.TransactionDeposit)

	_, err := NewLedgerStore(pool).ApplyDelta(context.Background(), "NOPE", dec("1"), txID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckCapitalInsufficientHasNoSideEffects(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "1000")

	v, err := store.CheckCapital(ctx, asset, dec("2000"))
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)
	assert.True(t, dec("1000").Equal(v.Amount))
	assert.Zero(t, countMovements(t, asset))

	v, err = store.CheckCapital(ctx, asset, dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, asset, v.Asset)

	_, err = store.CheckCapital(ctx, "NOPE", dec("1"))
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}

func ledgerAnchor(typ domain.TransactionType, asset string, amount string) domain.Transaction {
	return domain.Transaction{
		ID:           uuid.NewString(),
		Amount:       dec(amount),
		PricePerUnit: dec("1"),
		Status:       domain.TransactionFilled,
		Type:         typ,
		Asset:        asset,
	}
}

func TestDebitConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "10")

	const callers = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		deny int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Debit(ctx, asset, dec("1"), ledgerAnchor(domain.TransactionWithdrawal, asset, "1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientCapital):
				deny++
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, callers-10, deny)
	v, err := store.Get(ctx, asset)
	require.NoError(t, err)
	assert.True(t, v.Amount.IsZero(), "got %s", v.Amount)
	assert.Equal(t, 10, countMovements(t, asset))

	var anchors int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE asset = $1 AND type = 'WITHDRAWAL'`, asset,
	).Scan(&anchors))
	assert.Equal(t, 10, anchors, "refused debits leave no transaction behind")

	_, err = store.Debit(ctx, "NOPE", dec("1"), ledgerAnchor(domain.TransactionWithdrawal, "NOPE", "1"))
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}

func TestSetAmountWithConcurrentDeltasKeepsTrailConsistent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewLedgerStore(pool)
	asset := newVault(t, "1000")
	txID := newTransaction(t, domain.TransactionDeposit)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ApplyDelta(ctx, asset, dec("5"), txID)
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	var reset domain.VaultMovement
	go func() {
		defer wg.Done()
		var err error
		reset, err = store.SetAmount(ctx, asset, dec("500"), ledgerAnchor(domain.TransactionDeposit, asset, "0"))
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.True(t, reset.NewAmount.Equal(dec("500")))
	assert.True(t, reset.NewAmount.Sub(reset.OldAmount).Equal(reset.Difference))

	// Deltas applied after the reset stack on 500; none before it survive.
	v, err := store.Get(ctx, asset)
	require.NoError(t, err)
	moves, err := store.Movements(ctx, asset, domain.ListOpts{Limit: 100})
	require.NoError(t, err)
	require.Len(t, moves, writers+1)

	require.NotZero(t, reset.ID)
	after := 0
	for _, m := range moves {
		if m.ID > reset.ID {
			after++
		}
	}
	assert.True(t, dec("500").Add(dec("5").Mul(decimal.NewFromInt(int64(after)))).Equal(v.Amount),
		"final %s with %d deltas after the reset", v.Amount, after)

	chain := sortedMovements(moves)
	for i := 1; i < len(chain); i++ {
		assert.True(t, chain[i-1].NewAmount.Equal(chain[i].OldAmount),
			"movement %d starts where %d ended", chain[i].ID, chain[i-1].ID)
	}

	tx, err := NewTransactionStore(pool).GetByID(ctx, reset.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionWithdrawal, tx.Type)
	assert.True(t, tx.Amount.Equal(reset.Difference.Abs()))
}

func TestSetAmountAtTargetWritesNothing(t *testing.T) {
	requireDB(t)
	store := NewLedgerStore(pool)
	asset := newVault(t, "7")

	m, err := store.SetAmount(context.Background(), asset, dec("7"), ledgerAnchor(domain.TransactionDeposit, asset, "0"))
	require.NoError(t, err)
	assert.Empty(t, m.TransactionID)
	assert.True(t, m.Difference.IsZero())
	assert.Zero(t, countMovements(t, asset))
}

func sortedMovements(ms []domain.VaultMovement) []domain.VaultMovement {
	out := slices.Clone(ms)
	slices.SortFunc(out, func(a, b domain.VaultMovement) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func TestSettleWritesTransactionOrderAndFee(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	execs := NewExecutionStore(pool)
	txs := NewTransactionStore(pool)

	runID := uuid.NewString()
	require.NoError(t, execs.Create(ctx, domain.ExecutionRun{
		ID: runID, CycleKey: "USDT>ETHUSDT:ETH>ETHUSDC:USDC", StartAsset: "USDT", EndAsset: "USDC",
		State: domain.StateReserveCapital,
	}))

	profit := dec("1.25")
	st := domain.Settlement{
		Transaction: domain.Transaction{
			ID: uuid.NewString(), Amount: dec("0.05"), PricePerUnit: dec("2000"),
			Status: domain.TransactionFilled, Type: domain.TransactionBuy, Asset: "ETH",
			Profit: &profit, ExecutionID: &runID,
		},
		Order: domain.Order{
			ID: uuid.NewString(), ExchangeOrderID: "123", Symbol: "ETHUSDT", Side: domain.OrderSideBuy,
			RequestedQty: dec("0.05"), ExecutedQty: dec("0.05"), FillsPrice: dec("2000"),
			FillsQty: dec("0.05"), FillsCommission: dec("0.0001"), CommissionAsset: "BNB", LastTradeID: 99,
		},
		Fee: domain.Fee{ID: uuid.NewString(), Asset: "BNB", Amount: dec("-0.0001")},
	}
	require.NoError(t, txs.Settle(ctx, st))

	got, err := txs.ListByExecution(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, st.Transaction.ID, got[0].ID)
	require.NotNil(t, got[0].Profit)
	assert.True(t, profit.Equal(*got[0].Profit))

	var fee string
	err = pool.QueryRow(ctx, `SELECT amount::text FROM fees WHERE order_id = $1`, st.Order.ID).Scan(&fee)
	require.NoError(t, err)
	assert.True(t, dec("-0.0001").Equal(dec(fee)))

	// A positive fee violates the table check and the whole settlement rolls back.
	bad := st
	bad.Transaction.ID = uuid.NewString()
	bad.Order.ID = uuid.NewString()
	bad.Fee = domain.Fee{ID: uuid.NewString(), Asset: "BNB", Amount: dec("0.1")}
	err = txs.Settle(ctx, bad)
	require.ErrorIs(t, err, domain.ErrPersistence)
	_, err = txs.GetByID(ctx, bad.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDailyProfitGroupsByDay(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	txs := NewTransactionStore(pool)

	day := time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC)
	for i, p := range []string{"1.5", "2.5", "-1"} {
		profit := dec(p)
		id := uuid.NewString()
		require.NoError(t, txs.Create(ctx, domain.Transaction{
			ID: id, Amount: dec("1"), Status: domain.TransactionFilled, Type: domain.TransactionSell, Profit: &profit,
		}))
		_, err := pool.Exec(ctx, `UPDATE transactions SET created_at = $2 WHERE id = $1`,
			id, day.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	since := day
	until := day.Add(24*time.Hour - time.Second)
	got, err := txs.DailyProfit(ctx, domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, day.Equal(got[0].Day))
	assert.True(t, dec("3").Equal(got[0].TotalProfit))
}

func TestExecutionTransitionsRefuseAfterSettled(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewExecutionStore(pool)
	runID := uuid.NewString()
	require.NoError(t, store.Create(ctx, domain.ExecutionRun{
		ID: runID, CycleKey: "k", StartAsset: "USDT", EndAsset: "USDC", State: domain.StateReserveCapital,
	}))

	steps := []domain.ExecutionState{
		domain.StateReserveCapital, domain.StateLeg1, domain.StateLeg2, domain.StateSettle, domain.StateSettled,
	}
	for i := 0; i+1 < len(steps); i++ {
		require.NoError(t, store.Transition(ctx, runID, steps[i], steps[i+1], ""))
	}
	require.NoError(t, store.SetResult(ctx, runID, dec("1000"), dec("1004.2"), ""))

	err := store.Transition(ctx, runID, domain.StateSettle, domain.StateSettled, "again")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	run, err := store.GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, run.State)
	assert.Len(t, run.Transitions, 4)
	assert.True(t, dec("1004.2").Equal(run.FinalAmount))

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpportunityStoreRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewOpportunityStore(pool)

	opp := domain.Opportunity{
		ID:         uuid.NewString(),
		CycleKind:  domain.CycleTriangular,
		CycleKey:   "USDT>ETHUSDT:ETH>ETHUSDC:USDC",
		StartAsset: "USDT",
		EndAsset:   "USDC",
		Legs: []domain.Leg{
			{PairID: 1, Symbol: "ETHUSDT", From: "USDT", To: "ETH", Base: "ETH", Quote: "USDT", Direction: domain.BuyBase},
			{PairID: 2, Symbol: "ETHUSDC", From: "ETH", To: "USDC", Base: "ETH", Quote: "USDC", Direction: domain.SellBase},
		},
		Prices:             []decimal.Decimal{dec("2000"), dec("2010.5")},
		ProfitPercentage:   dec("0.35"),
		MinProfitThreshold: dec("0.1"),
		CreatedAt:          time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.Insert(ctx, opp))
	require.NoError(t, store.MarkExecuted(ctx, opp.ID))

	recent, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	got := recent[0]
	assert.Equal(t, opp.ID, got.ID)
	assert.True(t, got.Executed)
	assert.Equal(t, opp.Legs, got.Legs)
	require.Len(t, got.Prices, 2)
	assert.True(t, dec("2010.5").Equal(got.Prices[1]))
	assert.True(t, dec("0.35").Equal(got.ProfitPercentage))

	assert.ErrorIs(t, store.MarkExecuted(ctx, "missing"), domain.ErrNotFound)
}

func TestErrorLogStoreListsNewestFirst(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewErrorLogStore(pool)

	require.NoError(t, store.Create(ctx, domain.ErrorLog{Message: "first", Context: "{}"}))
	require.NoError(t, store.Create(ctx, domain.ErrorLog{Message: "second", Details: "rejected"}))

	got, err := store.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Message)

	old, err := store.ListBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestAuditStoreFiltersByEventPrefix(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewAuditStore(pool)
	family := "t" + uuid.NewString()[:8]

	require.NoError(t, store.Log(ctx, family+".deposit", map[string]any{"asset": "USDT", "amount": "10"}))
	require.NoError(t, store.Log(ctx, family+".withdraw", nil))
	require.NoError(t, store.Log(ctx, "other."+family, map[string]any{"n": 1}))

	got, err := store.ListEvents(ctx, family+".", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, family+".withdraw", got[0].Event)
	assert.Nil(t, got[0].Detail)
	assert.Equal(t, "USDT", got[1].Detail["asset"])
}

func TestQuoteStoreLatestPerPair(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	pairs, err := NewCatalogStore(pool).ListPairs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pairs)
	pair := pairs[0]

	store := NewQuoteStore(pool)
	now := time.Now().UTC()
	require.NoError(t, store.AppendBatch(ctx, []domain.Quote{
		{PairID: pair.ID, BidPrice: dec("1"), AskPrice: dec("1.1"), ObservedAt: now.Add(-time.Minute)},
		{PairID: pair.ID, BidPrice: dec("2"), AskPrice: dec("2.1"), Volume: dec("5"), ObservedAt: now},
	}))

	latest, err := store.LatestPerPair(ctx)
	require.NoError(t, err)
	for _, q := range latest {
		if q.PairID == pair.ID {
			assert.Equal(t, pair.Symbol, q.Symbol)
			assert.True(t, dec("2").Equal(q.BidPrice))
			return
		}
	}
	t.Fatalf("no quote for pair %d", pair.ID)
}
