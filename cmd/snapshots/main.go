// Command snapshots lists and downloads debug page captures from the object
// store.
//
//	snapshots list [prefix]
//	snapshots get <key> [dir]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/config"
	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/render"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-snapshots")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	flag.Parse()
	if err := run(cfg, flag.Args()); err != nil {
		logger.Error("snapshots error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: snapshots list [prefix] | snapshots get <key> [dir]")
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is not set")
	}

	snaps, err := render.NewSnapshotter(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, cfg.SnapshotTTLDays)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		keys, err := snaps.List(ctx, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: snapshots get <key> [dir]")
		}
		dir := "."
		if len(args) > 2 {
			dir = args[2]
		}
		dest, err := snaps.Download(ctx, args[1], dir)
		if err != nil {
			return err
		}
		fmt.Println(dest)
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}
