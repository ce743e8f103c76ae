package main

import (
	"context"
	"fmt"
	"os"

	"panostitch/internal/cli"
	"panostitch/internal/config"
	"panostitch/internal/logging"
	"panostitch/internal/pipeline"
	"panostitch/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "panostitch:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Warn("job store unavailable, continuing without persistence", "path", cfg.Paths.DatabasePath, "error", err)
	}
	defer store.Close()

	ctx := context.Background()
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, cfg)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, log, store, pipe).ExecuteContext(ctx)
}
