package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rezkam/smartflow/internal/application/scheduler"
	"github.com/rezkam/smartflow/internal/config"
	"github.com/rezkam/smartflow/internal/infrastructure/archive"
	"github.com/rezkam/smartflow/internal/infrastructure/hint"
	smarthttp "github.com/rezkam/smartflow/internal/infrastructure/http"
	"github.com/rezkam/smartflow/internal/infrastructure/http/handler"
	"github.com/rezkam/smartflow/internal/infrastructure/observability"
	"github.com/rezkam/smartflow/internal/infrastructure/persistence"
	"github.com/rezkam/smartflow/internal/predict"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Root context for all normal operations; cancels on SIGTERM/SIGINT.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observability endpoint and resource attributes come from the standard
	// OTEL_* environment variables.
	otelCfg := observability.Config{Enabled: cfg.OTelEnabled}

	lp, logger, err := observability.InitLogger(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	mp, err := observability.InitMeterProvider(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown meter provider", "error", err)
		}
	}()

	slog.InfoContext(ctx, "starting smartflow server", "storage", maskPassword(cfg.StorageDSN))

	store, err := persistence.Open(ctx, cfg.StorageDSN, cfg.AutoMigrate, cfg.StorageMaxOpenConns, cfg.StorageMaxIdleConns)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()

	opts := []scheduler.Option{
		scheduler.WithBackoff(cfg.BackoffTable()),
	}

	if cfg.HintURL != "" {
		hintQueue, err := hint.NewRedis(ctx, cfg.HintURL)
		if err != nil {
			return fmt.Errorf("failed to connect hint queue: %w", err)
		}
		defer hintQueue.Close()
		opts = append(opts, scheduler.WithHint(hintQueue))
		slog.InfoContext(ctx, "ready-queue hint backed by redis")
	}

	if cfg.ModelPath != "" {
		estimator, err := predict.NewEstimator(cfg.ModelPath)
		if err != nil {
			return fmt.Errorf("failed to load runtime model: %w", err)
		}
		opts = append(opts, scheduler.WithEstimator(estimator))
	}

	switch cfg.ArchiveBackend {
	case "fs":
		fsStore, err := archive.NewFSStore(cfg.ArchiveDir)
		if err != nil {
			return fmt.Errorf("failed to init archive: %w", err)
		}
		opts = append(opts, scheduler.WithArchive(fsStore))
		slog.InfoContext(ctx, "dead-job archive enabled", "backend", "fs", "dir", cfg.ArchiveDir)
	case "gcs":
		gcsStore, err := archive.NewGCSStore(ctx, cfg.ArchiveBucket)
		if err != nil {
			return fmt.Errorf("failed to init archive: %w", err)
		}
		defer gcsStore.Close()
		opts = append(opts, scheduler.WithArchive(gcsStore))
		slog.InfoContext(ctx, "dead-job archive enabled", "backend", "gcs", "bucket", cfg.ArchiveBucket)
	}

	svc := scheduler.New(store, opts...)
	api := handler.New(svc, cfg.DefaultLeaseSeconds)

	server := smarthttp.NewAPIServer(api.Routes(), smarthttp.ServerConfig{
		Host: cfg.Host,
		Port: cfg.Port,
	})

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")

		// Fresh context: the main one is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "HTTP server shutdown timed out", "error", err)
		}
		return nil
	case err := <-errResult:
		return err
	}
}

// maskPassword masks the password in a connection string for logging.
// Non-URL DSNs (SQLite paths) pass through unchanged.
func maskPassword(dsn string) string {
	if !persistence.IsPostgres(dsn) {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
