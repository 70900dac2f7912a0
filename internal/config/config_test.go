package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000.0, cfg.Arbitrage.Notional)
	assert.Equal(t, 0.075, cfg.Arbitrage.FeeRate)
	assert.Equal(t, "BNB", cfg.Arbitrage.FeeVaultAsset)
	assert.Equal(t, time.Minute, cfg.Pipeline.QuoteRecordInterval.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Arbitrage.Notional = 0
	cfg.Arbitrage.FeeRate = 120
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "bogus"`)
	assert.Contains(t, msg, "notional must be > 0")
	assert.Contains(t, msg, "fee_rate must be in [0, 100)")
	assert.Contains(t, msg, "redis: addr must not be empty")
}

func TestValidateRequiresKeysForAutoExecute(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.Arbitrage.AutoExecute = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")

	cfg.Binance.ApiKey = "key"
	cfg.Binance.ApiSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveCron(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true
	cfg.Pipeline.ArchiveEnabled = true
	cfg.Pipeline.ArchiveCron = "not a cron"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive_cron")
}

func TestFeeRateFor(t *testing.T) {
	a := Defaults().Arbitrage
	assert.Equal(t, 0.075, a.FeeRateFor(2))
	assert.Equal(t, 0.075, a.FeeRateFor(3))

	a.FeeRateTriangular = 0.1
	a.FeeRateQuadrangular = 0.2
	assert.Equal(t, 0.1, a.FeeRateFor(2))
	assert.Equal(t, 0.2, a.FeeRateFor(3))
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "full"

[arbitrage]
min_profit_threshold = 0.25
order_timeout = "3s"

[binance]
api_key = "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CRYPTOBAE_BINANCE_API_KEY", "from-env")
	t.Setenv("CRYPTOBAE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 0.25, cfg.Arbitrage.MinProfitThreshold)
	assert.Equal(t, 3*time.Second, cfg.Arbitrage.OrderTimeout.Duration)
	assert.Equal(t, "from-env", cfg.Binance.ApiKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// untouched defaults survive
	assert.Equal(t, 1000.0, cfg.Arbitrage.Notional)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.ApiSecret = "s3cret"
	cfg.Postgres.Password = "pw"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Binance.ApiSecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "", out.Binance.ApiKey)
	assert.Equal(t, "s3cret", cfg.Binance.ApiSecret)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func TestRedactedConfigDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: "", want: ""},
		{dsn: "postgres://bot:hunter2@db:5432/cryptobae", want: "postgres://bot:xxxxx@db:5432/cryptobae"},
		{dsn: "postgres://db:5432/cryptobae", want: "postgres://db:5432/cryptobae"},
		{dsn: "host=db user=bot password=hunter2", want: "***"},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Postgres.DSN = tt.dsn
		assert.Equal(t, tt.want, RedactedConfig(&cfg).Postgres.DSN, tt.dsn)
	}
}
