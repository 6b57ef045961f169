package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealscout/dealscout/internal/config"
	"github.com/dealscout/dealscout/internal/crypto"
	"github.com/dealscout/dealscout/internal/db"
	"github.com/dealscout/dealscout/internal/notifier"
	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/opsserver"
	"github.com/dealscout/dealscout/internal/orchestrator"
	"github.com/dealscout/dealscout/internal/queue"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-orchestrator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil && err != context.Canceled {
		logger.Error("orchestrator error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName+"-orchestrator", cfg.TempoEndpoint, cfg.TracingSampleRate)
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

	presets, err := orchestrator.LoadPresets(cfg.PresetsFile)
	if err != nil {
		return err
	}

	monitor := notifier.NewAlertMonitor(cfg.MonitoringSlackWebhook,
		notifier.TelegramFallback(cfg.MonitoringTelegramToken, cfg.MonitoringTelegramChatID))
	q := queue.New(store.Client, cfg.QueueStream).WithMonitor(monitor, cfg.DLQOverflowThreshold)

	ocfg := orchestrator.Config{
		DefaultGeoID:   cfg.DefaultGeoID,
		MinDiscount:    cfg.MinDiscount,
		MinScore:       cfg.MinScore,
		BudgetMaxPages: cfg.BudgetMaxPages,
		BudgetMaxTasks: cfg.BudgetMaxTasks,
	}
	if start, end, ok := cfg.QuietWindow(); ok {
		ocfg.QuietEnabled = true
		ocfg.QuietStart = start
		ocfg.QuietEnd = end
	}
	o := orchestrator.New(presets, pg, q, ocfg)

	ops := opsserver.New(cfg.MetricsAddr, map[string]opsserver.Pinger{
		"postgres": func(ctx context.Context) error { return pg.DB.PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return store.Client.Ping(ctx).Err() },
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.Start(gctx) })
	g.Go(func() error { return ops.Run(gctx) })
	return g.Wait()
}
