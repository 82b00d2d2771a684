// cmd/loyalty/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"loyalnexus/internal/clients"
	"loyalnexus/internal/config"
	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
	"loyalnexus/internal/observability/logging"
	"loyalnexus/internal/observability/telemetry"
	"loyalnexus/internal/server"
	"loyalnexus/internal/store"
)

const serviceName = "loyalty"

func main() {
	if err := run(); err != nil {
		slog.Error("loyalty service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("8082")
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

	directory := clients.NewRegistryClient(cfg.Services.RegistryURL, &http.Client{Timeout: clients.DefaultTimeout})

	dispatcher := notify.NewDispatcher(loyalty.NewResolver(directory), channels(cfg.Notify, logger),
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithRetryInterval(cfg.Notify.RetryInitial.Duration, cfg.Notify.RetryMax.Duration),
		notify.WithSendTimeout(cfg.Notify.SendTimeout.Duration),
		notify.WithSendRate(rate.Limit(cfg.Notify.SendRate), cfg.Notify.SendBurst),
		notify.WithBreaker(cfg.Notify.BreakerFailures, cfg.Notify.BreakerCooldown.Duration),
		notify.WithDispatcherLogger(logger),
	)
	worker := notify.NewWorker(backend, dispatcher,
		notify.WithMaxRounds(cfg.Notify.MaxRounds),
		notify.WithPollInterval(cfg.Notify.PollInterval.Duration),
		notify.WithLease(cfg.Notify.Lease.Duration),
		notify.WithRoundDelay(notify.ExponentialRoundDelay(cfg.Notify.RoundDelay.Duration, cfg.Notify.RoundDelayMax.Duration)),
		notify.WithWorkerLogger(logger),
	)
	lease, batch := worker.Lease()
	logger.Info("notification worker configured", slog.Duration("lease", lease), slog.Int("batch", batch))

	if pending, err := backend.PendingJobs(ctx); err != nil {
		logger.Warn("could not read notification backlog", slog.Any("error", err))
	} else if len(pending) > 0 {
		logger.Info("resuming notification backlog", slog.Int("jobs", len(pending)))
	}

	svc := loyalty.NewService(backend, directory,
		loyalty.WithLogger(logger),
		loyalty.WithKicker(worker),
		loyalty.WithDedupRetention(cfg.Loyalty.DedupRetention.Duration),
		loyalty.WithAccrualRetries(cfg.Loyalty.AccrualRetries),
	)
	guard := loyalty.NewGuard(backend, cfg.Loyalty.DedupRetention.Duration, logger)

	router := server.NewRouter(serviceName)
	loyalty.NewHandler(svc).Routes(router)

	return server.Run(ctx, cfg.Server, router, logger,
		worker.Run,
		func(ctx context.Context) error {
			guard.RunJanitor(ctx, cfg.Loyalty.JanitorInterval.Duration)
			return nil
		},
	)
}

// channels builds the delivery channels that have credentials configured.
// Destinations on a missing channel end up as permanent alerts.
func channels(cfg config.NotifyConfig, logger *slog.Logger) []notify.Channel {
	var out []notify.Channel
	if cfg.Email.Enabled() {
		out = append(out, notify.NewEmailChannel(notify.EmailConfig{
			BaseURL: cfg.Email.BaseURL,
			APIKey:  cfg.Email.APIKey,
			From:    cfg.Email.From,
			Timeout: cfg.Email.Timeout.Duration,
		}))
	}
	if cfg.Telegram.Enabled() {
		out = append(out, notify.NewTelegramChannel(notify.TelegramConfig{
			BaseURL:  cfg.Telegram.BaseURL,
			BotToken: cfg.Telegram.BotToken,
			Timeout:  cfg.Telegram.Timeout.Duration,
		}))
	}
	logger.Info("notification channels configured",
		slog.Bool("email", cfg.Email.Enabled()),
		slog.Bool("telegram", cfg.Telegram.Enabled()),
		logging.Secret("telegram_bot_token", cfg.Telegram.BotToken),
	)
	return out
}
