// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"loyalnexus/internal/chaos"
	"loyalnexus/internal/clients"
	"loyalnexus/internal/config"
	"loyalnexus/internal/observability/logging"
	"loyalnexus/internal/registry"
)

type options struct {
	concurrency int
	duration    time.Duration
	hold        time.Duration
	holdConns   int
	pause       time.Duration
	threshold   int
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "chaos",
		Short:        "Run the accrual invariants game day against a live deployment",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 50, "concurrent requests per experiment")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "observation window per experiment")
	cmd.Flags().DurationVar(&opts.hold, "hold", 5*time.Second, "how long connections are held during exhaustion")
	cmd.Flags().IntVar(&opts.holdConns, "hold-connections", 20, "database connections held during exhaustion")
	cmd.Flags().DurationVar(&opts.pause, "pause", 30*time.Second, "pause between experiments")
	cmd.Flags().IntVar(&opts.threshold, "threshold", 10, "threshold of the game-day business")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("chaos game day failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("chaos", cfg.Environment, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("chaos needs a shared database, not the memory driver")
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: clients.DefaultTimeout}
	reg := clients.NewRegistryClient(cfg.Services.RegistryURL, httpClient)
	tag := uuid.NewString()[:8]
	business, err := reg.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name:      "Game Day " + tag,
		Email:     "gameday-" + tag + "@loyalnexus.test",
		Password:  uuid.NewString(),
		Threshold: opts.threshold,
	})
	if err != nil {
		return fmt.Errorf("register game-day business: %w", err)
	}
	logger.Info("game-day business registered", slog.String("business_id", business.ID.String()))

	target := &chaos.Target{
		Service:    clients.NewLoyaltyClient(cfg.Services.LoyaltyURL, httpClient),
		DB:         db,
		BusinessID: business.ID,
		OwnerID:    business.OwnerID,
		Threshold:  business.Threshold,
		Enroll: func(ctx context.Context) (chaos.Customer, error) {
			c, err := reg.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{
				Name:  "Chaos Customer",
				Email: "customer-" + uuid.NewString()[:8] + "@loyalnexus.test",
			})
			if err != nil {
				return chaos.Customer{}, err
			}
			return chaos.Customer{ID: c.ID, Email: c.Email}, nil
		},
	}

	engine := chaos.NewEngine(
		chaos.WithPause(opts.pause),
		chaos.WithOutput(os.Stdout),
		chaos.WithLogger(logger),
	)
	engine.RegisterExperiments(target, chaos.Settings{
		Concurrency:     opts.concurrency,
		Duration:        opts.duration,
		HoldConnections: opts.holdConns,
		Hold:            opts.hold,
	})

	return engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Accrual invariants game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
}
