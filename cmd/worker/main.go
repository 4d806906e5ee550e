package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rezkam/smartflow/internal/client"
	"github.com/rezkam/smartflow/internal/config"
	"github.com/rezkam/smartflow/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	api := client.New(cfg.APIURL)
	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("scheduler API is unreachable at %s: %w", cfg.APIURL, err)
	}

	w := worker.New(api, *cfg)
	slog.InfoContext(ctx, "worker connected", "api_url", cfg.APIURL, "worker_id", w.WorkerID())

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
