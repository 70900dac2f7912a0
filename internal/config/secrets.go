package config

import (
	"log/slog"
	"net/url"
	"slices"
)

const redacted = "***"

// secretFields lists every credential in c. A new secret setting belongs
// here so it never reaches the startup log.
func (c *Config) secretFields() []*string {
	return []*string{
		&c.Binance.ApiKey,
		&c.Binance.ApiSecret,
		&c.Binance.SecretPassword,
		&c.Postgres.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg that is safe to log. Credentials
// become "***", the password inside a URL-form postgres DSN is masked, and
// slices are cloned so the copy cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, f := range out.secretFields() {
		if *f != "" {
			*f = redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

// LogValue lets a *Config be passed straight to slog without leaking
// credentials.
func (c *Config) LogValue() slog.Value {
	return slog.AnyValue(RedactedConfig(c))
}

// redactDSN masks the password of a postgres:// URL. Keyword/value DSNs are
// hidden whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	return u.Redacted()
}
