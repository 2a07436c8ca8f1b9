// Package app assembles the command core shared by the bot and the console.
package app

import (
	"context"
	"fmt"
	"time"

	"server-warden/internal/command"
	"server-warden/internal/commands"
	"server-warden/internal/config"
	"server-warden/internal/dispatch"
	"server-warden/internal/guildconfig"
	"server-warden/internal/middleware"
	"server-warden/internal/moderation"
	"server-warden/internal/resolve"
	"server-warden/internal/scheduler"
	"server-warden/internal/storage"
	"server-warden/internal/throttle"

	"go.uber.org/zap"
)

// Transport is what the chat network provides to the core.
type Transport struct {
	Members  moderation.Members
	Notifier moderation.Notifier
	Oracle   middleware.Oracle
	Latency  func() time.Duration

	// KnownPermission, when set, rejects commands whose guards name a
	// permission the oracle cannot check.
	KnownPermission func(string) bool
}

type Core struct {
	Config *config.Config
	Log    *zap.Logger

	Store      storage.Driver
	Configs    *guildconfig.Cache
	Throttles  *throttle.Registry
	Scheduler  *scheduler.Scheduler
	Registry   *command.Registry
	Resolver   *resolve.Resolver
	Moderation *moderation.Service
	Pipeline   *middleware.Pipeline
	Dispatcher *dispatch.Dispatcher
}

// New opens storage and builds the transport-independent parts.
func New(cfg *config.Config, logger *zap.Logger) (*Core, error) {
	store, err := storage.Open(cfg.StorageDriver, cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	registry := command.NewRegistry()
	c := &Core{
		Config:    cfg,
		Log:       logger,
		Store:     store,
		Configs:   guildconfig.New(store, cfg.PersistTimeout, logger),
		Throttles: throttle.New(throttle.WithLogger(logger)),
		Scheduler: scheduler.New(store, scheduler.Config{
			MaxAttempts:    cfg.SchedulerMaxAttempts,
			RetryDelay:     cfg.SchedulerRetryDelay,
			MaxRetryDelay:  cfg.SchedulerMaxRetryDelay,
			Concurrency:    cfg.SchedulerConcurrency,
			PersistTimeout: cfg.PersistTimeout,
		}, logger),
		Registry: registry,
		Resolver: resolve.New(registry),
	}
	return c, nil
}

// Wire connects the transport, registers the built-in commands and compiles
// every command chain.
func (c *Core) Wire(tr Transport) error {
	c.Moderation = moderation.New(tr.Members, tr.Notifier, c.Configs, c.Scheduler, c.Log)
	c.Moderation.RegisterExecutors()

	if tr.KnownPermission != nil {
		if err := c.Registry.SetPermissionNames(tr.KnownPermission); err != nil {
			return fmt.Errorf("failed to register commands: %w", err)
		}
	}
	if err := commands.Register(commands.Deps{
		Registry:   c.Registry,
		Resolver:   c.Resolver,
		Configs:    c.Configs,
		Moderation: c.Moderation,
		Scheduler:  c.Scheduler,
		History:    c.Store,
		Latency:    tr.Latency,
	}); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	opts := []middleware.Option{
		middleware.WithLogger(c.Log),
		middleware.WithOracleTimeout(c.Config.OracleTimeout),
		middleware.WithDeveloper(c.Config.DeveloperID),
		middleware.WithAmbient(
			middleware.GuildOnly(),
			middleware.CommandLogger(c.Store, c.Log),
		),
	}
	if c.Config.GlobalThrottle != "" {
		spec, err := globalThrottle(c.Config.GlobalThrottle)
		if err != nil {
			return err
		}
		opts = append(opts, middleware.WithGlobalThrottle(spec))
	}
	c.Pipeline = middleware.NewPipeline(tr.Oracle, c.Throttles, opts...)

	c.Dispatcher = dispatch.New(c.Configs, c.Resolver, c.Pipeline, c.Log)
	c.Dispatcher.Compile(c.Registry.All())
	return nil
}

func globalThrottle(raw string) (*command.ThrottleSpec, error) {
	g, err := command.ParseGuard("throttle:" + raw)
	if err != nil {
		return nil, fmt.Errorf("invalid GLOBAL_THROTTLE: %w", err)
	}
	spec, ok := g.(*command.ThrottleSpec)
	if !ok {
		return nil, fmt.Errorf("invalid GLOBAL_THROTTLE %q", raw)
	}
	return spec, nil
}

// Start recovers deferred actions and launches the background loops. It
// returns once recovery has run; the loops stop with ctx.
func (c *Core) Start(ctx context.Context) error {
	n, err := c.Scheduler.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover deferred actions: %w", err)
	}
	c.Log.Info("deferred actions recovered", zap.Int("active", n))

	go c.Throttles.RunSweeper(ctx, c.Config.ThrottleSweepInterval, c.Config.ThrottleIdleTTL)
	go c.Scheduler.RunRecovery(ctx, c.Config.SchedulerRecovery)
	return nil
}

// Close waits for in-flight deferred actions until ctx is done, then closes storage.
func (c *Core) Close(ctx context.Context) error {
	c.Scheduler.Close(ctx)
	return c.Store.Close()
}
