package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
	"github.com/JonMunkholm/captionset/internal/jsonx"
	"github.com/JonMunkholm/captionset/internal/logging"
	"github.com/JonMunkholm/captionset/internal/metrics"
	"github.com/JonMunkholm/captionset/internal/store"
	"github.com/JonMunkholm/captionset/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Database.Backend,
		"driver", cfg.Database.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"json_sonic", jsonx.UsingSonic(),
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	images, err := store.Open(ctx, cfg.Database, cfg.Upload.BatchSize)
	if err != nil {
		slog.Error("failed to open image store", "error", err)
		os.Exit(1)
	}
	defer images.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var recorder core.MetricsRecorder
	if cfg.Metrics.Enabled {
		m, err := metrics.NewIngestMetrics(registry)
		if err != nil {
			slog.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
		recorder = m
	}

	service, err := core.NewService(images, core.ServiceConfig{
		MaxFileSize:    cfg.Upload.MaxFileSize,
		MaxConcurrent:  cfg.Upload.MaxConcurrent,
		MaxWaitTime:    cfg.Upload.MaxWaitTime,
		Timeout:        cfg.Upload.Timeout,
		LockWaitTime:   cfg.Upload.LockWaitTime,
		SkipSampleSize: cfg.Upload.SkipSampleSize,
		Metrics:        recorder,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server, err := web.NewServer(service, images, cfg, registry)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new ingestion starts.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.UploadStatus(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
