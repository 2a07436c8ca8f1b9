// cmd/warden/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"server-warden/internal/app"
	"server-warden/internal/config"
	"server-warden/internal/discord"
	"server-warden/pkg/retrylimit"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireToken(); err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("warden exited with error", zap.Error(err))
	}
	logger.Info("warden exited cleanly")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting warden", zap.String("storage", cfg.StorageDriver), zap.String("path", cfg.StoragePath))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	core, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := core.Close(closeCtx); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	bot, err := discord.New(ctx, cfg, core.Configs, logger)
	if err != nil {
		return err
	}
	session := bot.Session()
	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)

	if err := core.Wire(app.Transport{
		Members:  discord.NewMembers(session, lim, logger),
		Notifier: discord.NewNotifier(session, lim, logger),
		Oracle:   discord.NewOracle(session),
		Latency:  bot.Latency,

		KnownPermission: discord.KnownPermission,
	}); err != nil {
		return err
	}

	// Deferred actions are recovered before any message can be dispatched.
	if err := core.Start(ctx); err != nil {
		return err
	}
	if err := bot.Open(); err != nil {
		return err
	}
	defer bot.Close()

	core.Dispatcher.Run(ctx, bot.Messages(), cfg.Workers)
	logger.Info("❎ shutdown signal received, cleaning up")
	return nil
}
