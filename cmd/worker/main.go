package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealscout/dealscout/internal/adapters"
	"github.com/dealscout/dealscout/internal/analytics"
	"github.com/dealscout/dealscout/internal/config"
	"github.com/dealscout/dealscout/internal/crypto"
	"github.com/dealscout/dealscout/internal/db"
	"github.com/dealscout/dealscout/internal/notifier"
	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/opsserver"
	"github.com/dealscout/dealscout/internal/pipeline"
	"github.com/dealscout/dealscout/internal/queue"
	"github.com/dealscout/dealscout/internal/render"
	"github.com/dealscout/dealscout/internal/selectors"
	"github.com/dealscout/dealscout/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil && err != context.Canceled {
		logger.Error("worker error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName+"-worker", cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	var codec *crypto.Codec
	if cfg.DataEncryptionKey != "" {
		var err error
		codec, err = crypto.NewCodec(cfg.DataEncryptionKey)
		if err != nil {
			return fmt.Errorf("init codec: %w", err)
		}
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime, codec)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer store.Close()

	var sink analytics.Sink
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer ch.Close()
		sink = ch
	}

	registry, err := selectors.LoadRegistry(cfg.SelectorsFile)
	if err != nil {
		logger.Warn("selectors registry unavailable, using built-in defaults", zap.Error(err))
		registry = selectors.Registry{}
	}
	overrides, err := cfg.RegionOverrides()
	if err != nil {
		return err
	}
	regions := adapters.NewRegionMap(overrides)

	snaps, err := render.NewSnapshotter(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, cfg.SnapshotTTLDays)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}

	pool := render.NewPool(
		cfg.RenderCtxPool,
		cfg.RenderPerDomain,
		render.NewCache(store.Client),
		render.NewRobots(cfg.ServiceName),
		snaps,
		render.NewUAPool(cfg.RenderUserAgents),
	)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start render pool: %w", err)
	}
	defer pool.Stop()

	proc := pipeline.New(pg, pool, sink, registry, regions, pipeline.Options{
		ShippingCost: cfg.ShippingCost,
		Timeout:      cfg.RenderTimeout,
		Sleep:        cfg.RenderSleep,
		SleepJitter:  cfg.RenderSleepJitter,
	})

	var batcher worker.Batcher
	if cfg.TelegramBotToken != "" {
		tg, err := notifier.NewTelegram(cfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		batcher = notifier.New(store, tg, cfg.DailyMsgLimit)
	}

	monitor := notifier.NewAlertMonitor(cfg.MonitoringSlackWebhook,
		notifier.TelegramFallback(cfg.MonitoringTelegramToken, cfg.MonitoringTelegramChatID))
	q := queue.New(store.Client, cfg.QueueStream).WithMonitor(monitor, cfg.DLQOverflowThreshold)

	w := worker.New(pg, proc, batcher, cfg.WorkerSite, cfg.WorkerGeoID, cfg.WorkerCategory, cfg.DefaultGeoID, cfg.TGChatID)

	ops := opsserver.New(cfg.MetricsAddr, map[string]opsserver.Pinger{
		"postgres": func(ctx context.Context) error { return pg.DB.PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return store.Client.Ping(ctx).Err() },
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx, q, consumerName()) })
	g.Go(func() error { return ops.Run(gctx) })
	return g.Wait()
}

func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
