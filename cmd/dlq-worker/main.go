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
	"github.com/dealscout/dealscout/internal/db"
	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/notifier"
	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/opsserver"
	"github.com/dealscout/dealscout/internal/queue"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-dlq")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil && err != context.Canceled {
		logger.Error("dlq worker error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer store.Close()

	monitor := notifier.NewAlertMonitor(cfg.MonitoringSlackWebhook,
		notifier.TelegramFallback(cfg.MonitoringTelegramToken, cfg.MonitoringTelegramChatID))
	q := queue.New(store.Client, cfg.QueueStream).WithMonitor(monitor, cfg.DLQOverflowThreshold)

	ops := opsserver.New(cfg.MetricsAddr, map[string]opsserver.Pinger{
		"redis": func(ctx context.Context) error { return store.Client.Ping(ctx).Err() },
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.ConsumeDLQ(gctx, consumerName(), cfg.WorkerSite, cfg.WorkerGeoID, cfg.WorkerCategory, logDeadTask)
	})
	g.Go(func() error { return ops.Run(gctx) })
	return g.Wait()
}

// logDeadTask records a dead task with enough context to requeue it by hand.
// Tasks land here after exhausting retries or failing permanently; automatic
// republish would just cycle them.
func logDeadTask(_ context.Context, task models.TaskPayload) error {
	zap.L().Warn("dead task drained",
		zap.String("site", task.Site),
		zap.String("url", task.URL),
		zap.String("geoid", task.GeoID),
		zap.String("category", task.Category),
		zap.Bool("notify", task.Notify))
	return nil
}

func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("dlq-%d", os.Getpid())
}
