package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOBAE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTOBAE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.BaseURL, "CRYPTOBAE_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "CRYPTOBAE_BINANCE_WS_URL")
	setStr(&cfg.Binance.ApiKey, "CRYPTOBAE_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "CRYPTOBAE_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "CRYPTOBAE_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "CRYPTOBAE_BINANCE_SECRET_PASSWORD")
	setInt(&cfg.Binance.RecvWindow, "CRYPTOBAE_BINANCE_RECV_WINDOW")
	setInt(&cfg.Binance.RequestWeightPerMinute, "CRYPTOBAE_BINANCE_REQUEST_WEIGHT_PER_MINUTE")
	setDuration(&cfg.Binance.HTTPTimeout, "CRYPTOBAE_BINANCE_HTTP_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CRYPTOBAE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CRYPTOBAE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOBAE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOBAE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOBAE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOBAE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOBAE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOBAE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOBAE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOBAE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CRYPTOBAE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOBAE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOBAE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOBAE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOBAE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOBAE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CatalogTTLHours, "CRYPTOBAE_REDIS_CATALOG_TTL_HOURS")
	setStr(&cfg.Redis.KeyPrefix, "CRYPTOBAE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOBAE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOBAE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOBAE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOBAE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOBAE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOBAE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOBAE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOBAE_S3_FORCE_PATH_STYLE")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "CRYPTOBAE_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.FeeRate, "CRYPTOBAE_ARBITRAGE_FEE_RATE")
	setFloat64(&cfg.Arbitrage.FeeRateTriangular, "CRYPTOBAE_ARBITRAGE_FEE_RATE_TRIANGULAR")
	setFloat64(&cfg.Arbitrage.FeeRateQuadrangular, "CRYPTOBAE_ARBITRAGE_FEE_RATE_QUADRANGULAR")
	setFloat64(&cfg.Arbitrage.Notional, "CRYPTOBAE_ARBITRAGE_NOTIONAL")
	setFloat64(&cfg.Arbitrage.MinPositionSize, "CRYPTOBAE_ARBITRAGE_MIN_POSITION_SIZE")
	setFloat64(&cfg.Arbitrage.MaxPositionSize, "CRYPTOBAE_ARBITRAGE_MAX_POSITION_SIZE")
	setDuration(&cfg.Arbitrage.OrderTimeout, "CRYPTOBAE_ARBITRAGE_ORDER_TIMEOUT")
	setDuration(&cfg.Arbitrage.TickInterval, "CRYPTOBAE_ARBITRAGE_TICK_INTERVAL")
	setDuration(&cfg.Arbitrage.LockTTL, "CRYPTOBAE_ARBITRAGE_LOCK_TTL")
	setBool(&cfg.Arbitrage.AutoExecute, "CRYPTOBAE_ARBITRAGE_AUTO_EXECUTE")
	setBool(&cfg.Arbitrage.Quadrangular, "CRYPTOBAE_ARBITRAGE_QUADRANGULAR")
	setStr(&cfg.Arbitrage.FeeVaultAsset, "CRYPTOBAE_ARBITRAGE_FEE_VAULT_ASSET")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.QuoteRecordInterval, "CRYPTOBAE_PIPELINE_QUOTE_RECORD_INTERVAL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "CRYPTOBAE_PIPELINE_ARCHIVE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "CRYPTOBAE_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "CRYPTOBAE_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CRYPTOBAE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CRYPTOBAE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStr(&cfg.Server.APIKey, "CRYPTOBAE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOBAE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "CRYPTOBAE_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTOBAE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOBAE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOBAE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOBAE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CRYPTOBAE_MODE")
	setStr(&cfg.LogLevel, "CRYPTOBAE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
