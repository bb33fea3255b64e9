// Package app wires together Weaver's core engine: storage, event log,
// domain router, plugin registry, and run manager. It owns process
// lifetime, mirroring the teacher's App{cfg, logger, closers}/New/Run/Close
// shape with its LIFO cleanup idiom, but the dependency graph itself is
// rebuilt around runs instead of a single global operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaver-engine/weaver/internal/backtest"
	s3blob "github.com/weaver-engine/weaver/internal/blob/s3"
	busredis "github.com/weaver-engine/weaver/internal/bus/redis"
	"github.com/weaver-engine/weaver/internal/config"
	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
	"github.com/weaver-engine/weaver/internal/notify"
	"github.com/weaver-engine/weaver/internal/pluginloader"
	"github.com/weaver-engine/weaver/internal/plugins"
	"github.com/weaver-engine/weaver/internal/router"
	"github.com/weaver-engine/weaver/internal/runmanager"
	"github.com/weaver-engine/weaver/internal/store/postgres"
)

// App is the root application object. It owns the configuration, logger,
// the wired RunManager, and a list of cleanup functions called in reverse
// order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	Runs   *runmanager.Manager
	Router *router.Router
}

// New creates a new App from the given configuration and logger. It does
// not connect to anything; call Run to wire dependencies and block.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks until ctx is cancelled, at which
// point it stops every active run and returns. Call Close afterward to
// release the remaining process-lifetime resources (DB pool, event log,
// router).
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application", slog.String("log_level", a.cfg.LogLevel))

	if err := a.wire(ctx); err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received, stopping active runs")
	a.Runs.CloseAll(context.Background())
	return nil
}

// wire builds the Postgres client, every domain store, the event log, the
// domain router, the plugin registry, and the run manager, registering a
// cleanup closer for each as it is built so a failure partway through
// tears down everything already constructed.
func (a *App) wire(ctx context.Context) error {
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      a.cfg.Postgres.DSN,
		Host:     a.cfg.Postgres.Host,
		Port:     a.cfg.Postgres.Port,
		Database: a.cfg.Postgres.Database,
		User:     a.cfg.Postgres.User,
		Password: a.cfg.Postgres.Password,
		SSLMode:  a.cfg.Postgres.SSLMode,
		MaxConns: a.cfg.Postgres.PoolMaxConns,
		MinConns: a.cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pgClient.Close)

	if a.cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			a.teardown()
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	runs := postgres.NewRunStore(pool)
	orders := postgres.NewOrderStore(pool)
	fills := postgres.NewFillStore(pool)
	bars := postgres.NewBarStore(pool)
	audit := postgres.NewAuditStore(pool)

	log := eventlog.NewPostgresLog(pool, a.logger)
	if a.cfg.Redis.Addr != "" {
		if notifier, closer, err := a.wireNotifier(ctx); err != nil {
			a.logger.Warn("redis cross-process notifier disabled", slog.String("error", err.Error()))
		} else {
			log.SetNotifier(notifier)
			a.closers = append(a.closers, closer)
		}
	}

	dr := router.New(log, a.logger)
	a.closers = append(a.closers, dr.Close)

	registry := pluginloader.NewRegistry()
	plugins.RegisterBuiltins(registry)
	if a.cfg.Run.PluginDir != "" {
		if metas, err := pluginloader.Discover(a.cfg.Run.PluginDir); err != nil {
			a.logger.Warn("plugin source discovery failed", slog.String("dir", a.cfg.Run.PluginDir), slog.String("error", err.Error()))
		} else if _, err := pluginloader.TopoSort(metas); err != nil {
			a.logger.Warn("plugin dependency graph invalid", slog.String("error", err.Error()))
		}
	}

	var archiver runmanager.RunArchiver
	if a.cfg.S3.Enabled {
		if built, err := a.buildArchiver(ctx, audit); err != nil {
			a.logger.Warn("s3 archival disabled", slog.String("error", err.Error()))
		} else {
			archiver = built
		}
	}

	runMgr := runmanager.New(runmanager.Deps{
		Runs:     runs,
		Orders:   orders,
		Fills:    fills,
		Bars:     bars,
		Audit:    audit,
		Log:      log,
		Router:   dr,
		Plugins:  registry,
		Logger:   a.logger,
		FillCfg:  backtest.FillPolicy{},
		Notify:   a.buildNotifier(),
		Archiver: archiver,
	})

	a.Runs = runMgr
	a.Router = dr
	return nil
}

// buildNotifier assembles an optional run-lifecycle Notifier from whatever
// channels the config supplies. It returns nil (disabling notifications
// entirely) if neither Telegram nor Discord credentials are configured.
func (a *App) buildNotifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}

// buildArchiver constructs the optional S3 backtest archiver. The S3 client
// itself has no process-lifetime state worth closing, so no closer is
// registered.
func (a *App) buildArchiver(ctx context.Context, audit domain.AuditStore) (*s3blob.RunArchiver, error) {
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       a.cfg.S3.Endpoint,
		Region:         a.cfg.S3.Region,
		Bucket:         a.cfg.S3.Bucket,
		AccessKey:      a.cfg.S3.AccessKey,
		SecretKey:      a.cfg.S3.SecretKey,
		UseSSL:         a.cfg.S3.UseSSL,
		ForcePathStyle: a.cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("connect s3: %w", err)
	}
	return s3blob.NewRunArchiver(s3blob.NewWriter(client), audit), nil
}

func (a *App) wireNotifier(ctx context.Context) (*busredis.Notifier, func(), error) {
	client, err := busredis.New(ctx, busredis.ClientConfig{
		Addr:       a.cfg.Redis.Addr,
		Password:   a.cfg.Redis.Password,
		DB:         a.cfg.Redis.DB,
		PoolSize:   a.cfg.Redis.PoolSize,
		MaxRetries: a.cfg.Redis.MaxRetries,
		TLSEnabled: a.cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, nil, err
	}
	return busredis.NewNotifier(client), func() { _ = client.Close() }, nil
}

func (a *App) teardown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	a.teardown()
}
