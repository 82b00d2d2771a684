// cmd/registry/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"loyalnexus/internal/config"
	"loyalnexus/internal/observability/logging"
	"loyalnexus/internal/observability/telemetry"
	"loyalnexus/internal/registry"
	"loyalnexus/internal/server"
	"loyalnexus/internal/store"
)

const serviceName = "registry"

func main() {
	if err := run(); err != nil {
		slog.Error("registry service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("8083")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "loyalnexus-" + serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	backend, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	perRequest := time.Minute / time.Duration(cfg.Registry.RequestsPerMinute)
	svc := registry.NewService(backend,
		registry.WithRateLimit(rate.Every(perRequest), cfg.Registry.Burst),
		registry.WithLogger(logger),
	)

	router := server.NewRouter(serviceName)
	registry.NewHandler(svc).Routes(router)

	return server.Run(ctx, cfg.Server, router, logger)
}
