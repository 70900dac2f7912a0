package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/camilosanchezdev/cryptobae-triangular-api/internal/blob/s3"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/cache/redis"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/config"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/crypto"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/notify"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/platform/binance"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/handler"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	CatalogStore     domain.CatalogStore
	QuoteStore       domain.QuoteStore
	OpportunityStore *postgres.OpportunityStore
	LedgerStore      *postgres.LedgerStore
	TransactionStore domain.TransactionStore
	ExecutionStore   domain.ExecutionStore
	ErrorLogStore    *postgres.ErrorLogStore
	AuditStore       *postgres.AuditStore

	// Caches
	CatalogCache domain.CatalogCache
	QuoteCache   domain.QuoteCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    *redis.SignalBus

	// Blob storage; Archiver is nil unless s3.enabled.
	Archiver domain.Archiver

	// Exchange
	Binance   *binance.Client
	BinanceWS *binance.WSClient

	// Notifications
	Notifier *notify.Notifier

	// Health probes by name.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.CatalogStore = postgres.NewCatalogStore(pool)
	deps.QuoteStore = postgres.NewQuoteStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.TransactionStore = postgres.NewTransactionStore(pool)
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.ErrorLogStore = postgres.NewErrorLogStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}
	deps.CatalogCache = redis.NewCatalogCache(redisClient)
	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			logger.WarnContext(ctx, "wire: archive bucket not ready", slog.String("error", err.Error()))
		}
		deps.Pingers["s3"] = s3Pinger{s3Client}
		deps.Archiver = s3blob.NewArchiver(
			s3Client,
			s3Client,
			deps.OpportunityStore,
			deps.LedgerStore,
			deps.ErrorLogStore,
			deps.AuditStore,
		)
	}

	// --- Binance ---
	secret, err := exchangeSecret(cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: binance secret: %w", err))
	}
	deps.Binance = binance.NewClient(binance.ClientConfig{
		BaseURL:         cfg.Binance.BaseURL,
		APIKey:          cfg.Binance.ApiKey,
		APISecret:       secret,
		RecvWindow:      int64(cfg.Binance.RecvWindow),
		HTTPTimeout:     cfg.Binance.HTTPTimeout.Duration,
		WeightPerMinute: cfg.Binance.RequestWeightPerMinute,
	}, deps.RateLimiter, deps.ErrorLogStore, logger)
	deps.BinanceWS = binance.NewWSClient(cfg.Binance.WsURL, logger)
	closers = append(closers, func() { _ = deps.BinanceWS.Close() })

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// exchangeSecret resolves the Binance API secret. It is only required when
// orders can be placed; read-only modes run with whatever is configured.
func exchangeSecret(cfg *config.Config) (string, error) {
	src := crypto.SecretConfig{
		RawSecret:     cfg.Binance.ApiSecret,
		EncryptedPath: cfg.Binance.EncryptedSecretPath,
		Password:      cfg.Binance.SecretPassword,
	}
	if src.RawSecret == "" && src.EncryptedPath == "" {
		if cfg.NeedsExchangeKeys() {
			return "", fmt.Errorf("mode %s with auto_execute needs an api secret", strings.ToLower(cfg.Mode))
		}
		return "", nil
	}
	return crypto.LoadSecret(src)
}

// s3Pinger adapts the bucket health check to the health endpoint.
type s3Pinger struct{ c *s3blob.Client }

func (p s3Pinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.c.Health(ctx)
}
