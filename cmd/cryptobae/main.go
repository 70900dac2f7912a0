// Command cryptobae runs the stablecoin cycle arbitrage engine. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
//
// With -encrypt-secret it instead seals CRYPTOBAE_BINANCE_API_SECRET with
// CRYPTOBAE_BINANCE_SECRET_PASSWORD and writes the blob to the given path,
// for use as binance.encrypted_secret_path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/app"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/config"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptTo := flag.String("encrypt-secret", "", "write an encrypted API secret to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptTo != "" {
		if err := encryptSecret(*encryptTo); err != nil {
			logger.Error("encrypt secret failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted secret written", slog.String("path", *encryptTo))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("cryptobae starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", cfg),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("cryptobae stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func encryptSecret(path string) error {
	blob, err := crypto.EncryptSecret(
		os.Getenv("CRYPTOBAE_BINANCE_API_SECRET"),
		os.Getenv("CRYPTOBAE_BINANCE_SECRET_PASSWORD"),
	)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
