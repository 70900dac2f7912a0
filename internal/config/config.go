// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOBAE_* environment variables.
type Config struct {
	Binance   BinanceConfig   `toml:"binance"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BinanceConfig holds exchange endpoints and API credentials. The secret can
// be given directly or as a password-encrypted file.
type BinanceConfig struct {
	BaseURL                string   `toml:"base_url"`
	WsURL                  string   `toml:"ws_url"`
	ApiKey                 string   `toml:"api_key"`
	ApiSecret              string   `toml:"api_secret"`
	EncryptedSecretPath    string   `toml:"encrypted_secret_path"`
	SecretPassword         string   `toml:"secret_password"`
	RecvWindow             int      `toml:"recv_window"`
	RequestWeightPerMinute int      `toml:"request_weight_per_minute"`
	HTTPTimeout            duration `toml:"http_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CatalogTTLHours int    `toml:"catalog_ttl_hours"`
	StreamMaxLen    int    `toml:"stream_max_len"`
	// KeyPrefix namespaces every key so several deployments can share one
	// database. Pub/Sub channels and streams are not prefixed.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArbitrageConfig holds detection and execution parameters. Percentages are
// expressed in percent units (0.075 means 0.075%).
type ArbitrageConfig struct {
	MinProfitThreshold  float64 `toml:"min_profit_threshold"`
	FeeRate             float64 `toml:"fee_rate"`
	FeeRateTriangular   float64 `toml:"fee_rate_triangular"`
	FeeRateQuadrangular float64 `toml:"fee_rate_quadrangular"`
	Notional            float64 `toml:"notional"`
	MinPositionSize     float64 `toml:"min_position_size"`
	// MaxPositionSize caps the capital committed to one run; 0 commits the
	// whole vault balance.
	MaxPositionSize float64  `toml:"max_position_size"`
	OrderTimeout    duration `toml:"order_timeout"`
	TickInterval    duration `toml:"tick_interval"`
	LockTTL         duration `toml:"lock_ttl"`
	AutoExecute     bool     `toml:"auto_execute"`
	Quadrangular    bool     `toml:"quadrangular"`
	FeeVaultAsset   string   `toml:"fee_vault_asset"`
}

// PipelineConfig holds background job parameters.
type PipelineConfig struct {
	QuoteRecordInterval  duration `toml:"quote_record_interval"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			BaseURL:                "https://api.binance.com",
			WsURL:                  "wss://stream.binance.com:9443",
			RecvWindow:             5000,
			RequestWeightPerMinute: 1200,
			HTTPTimeout:            duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptobae",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			CatalogTTLHours: 24,
			StreamMaxLen:    10000,
			KeyPrefix:       "cryptobae:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptobae-archive",
			ForcePathStyle: true,
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold: 0.1,
			FeeRate:            0.075,
			Notional:           1000,
			MinPositionSize:    10,
			OrderTimeout:       duration{5 * time.Second},
			TickInterval:       duration{10 * time.Second},
			LockTTL:            duration{2 * time.Minute},
			AutoExecute:        false,
			Quadrangular:       true,
			FeeVaultAsset:      "BNB",
		},
		Pipeline: PipelineConfig{
			QuoteRecordInterval:  duration{time.Minute},
			ArchiveEnabled:       false,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 300,
		},
		Notify: NotifyConfig{
			Events: []string{"execution_settled", "execution_partial", "error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// FeeRateFor returns the per-leg fee rate (percent) for a cycle with the given
// number of legs. Per-length overrides win over the shared rate.
func (a ArbitrageConfig) FeeRateFor(legs int) float64 {
	switch {
	case legs == 2 && a.FeeRateTriangular > 0:
		return a.FeeRateTriangular
	case legs == 3 && a.FeeRateQuadrangular > 0:
		return a.FeeRateQuadrangular
	default:
		return a.FeeRate
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor":   true,
	"arbitrage": true,
	"server":    true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsExchangeKeys reports whether the mode places orders.
func (c *Config) NeedsExchangeKeys() bool {
	mode := strings.ToLower(c.Mode)
	return (mode == "arbitrage" || mode == "full") && c.Arbitrage.AutoExecute
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, arbitrage, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance
	if c.Binance.BaseURL == "" {
		errs = append(errs, "binance: base_url must not be empty")
	}
	if c.NeedsExchangeKeys() {
		if c.Binance.ApiKey == "" {
			errs = append(errs, "binance: api_key is required when arbitrage.auto_execute is on")
		}
		if c.Binance.ApiSecret == "" && c.Binance.EncryptedSecretPath == "" {
			errs = append(errs, "binance: either api_secret or encrypted_secret_path must be set when arbitrage.auto_execute is on")
		}
	}
	if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
		errs = append(errs, "binance: secret_password is required when encrypted_secret_path is set")
	}
	if c.Binance.RecvWindow <= 0 || c.Binance.RecvWindow > 60000 {
		errs = append(errs, fmt.Sprintf("binance: recv_window must be 1-60000, got %d", c.Binance.RecvWindow))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Arbitrage
	a := c.Arbitrage
	if a.MinProfitThreshold < 0 {
		errs = append(errs, "arbitrage: min_profit_threshold must be >= 0")
	}
	for name, v := range map[string]float64{
		"fee_rate":              a.FeeRate,
		"fee_rate_triangular":   a.FeeRateTriangular,
		"fee_rate_quadrangular": a.FeeRateQuadrangular,
	} {
		if v < 0 || v >= 100 {
			errs = append(errs, fmt.Sprintf("arbitrage: %s must be in [0, 100), got %g", name, v))
		}
	}
	if a.Notional <= 0 {
		errs = append(errs, "arbitrage: notional must be > 0")
	}
	if a.MinPositionSize < 0 {
		errs = append(errs, "arbitrage: min_position_size must be >= 0")
	}
	if a.MaxPositionSize < 0 {
		errs = append(errs, "arbitrage: max_position_size must be >= 0")
	}
	if a.MaxPositionSize > 0 && a.MaxPositionSize < a.MinPositionSize {
		errs = append(errs, "arbitrage: max_position_size must not be below min_position_size")
	}
	if a.OrderTimeout.Duration <= 0 {
		errs = append(errs, "arbitrage: order_timeout must be > 0")
	}
	if a.TickInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: tick_interval must be > 0")
	}
	if a.AutoExecute && a.FeeVaultAsset == "" {
		errs = append(errs, "arbitrage: fee_vault_asset must be set when auto_execute is on")
	}

	// Pipeline
	if c.Pipeline.QuoteRecordInterval.Duration <= 0 {
		errs = append(errs, "pipeline: quote_record_interval must be > 0")
	}
	if c.Pipeline.ArchiveEnabled {
		if !c.S3.Enabled {
			errs = append(errs, "pipeline: archive_enabled requires s3.enabled")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Pipeline.ArchiveCron); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline: archive_cron %q: %v", c.Pipeline.ArchiveCron, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
