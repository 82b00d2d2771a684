// Package cli implements loyaltyctl, the operator CLI for the loyalty engine.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"loyalnexus/internal/clients"
	"loyalnexus/internal/loyalty"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Format  string // "json" | "text"
	Timeout time.Duration

	// NewService builds the engine client. Tests replace it.
	NewService func(opts *RootOptions) loyalty.Service
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func defaultServer() string {
	if v := os.Getenv("LOYALTY_SERVICE_URL"); v != "" {
		return v
	}
	return "http://localhost:8082"
}

// NewRootCommand creates the loyaltyctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{
		NewService: func(o *RootOptions) loyalty.Service {
			return clients.NewLoyaltyClient(o.Server, &http.Client{Timeout: o.Timeout})
		},
	}

	cmd := &cobra.Command{
		Use:   "loyaltyctl",
		Short: "Operate the loyalty accrual and reward engine",
		Long:  "loyaltyctl submits scans, redeems rewards and inspects customer cards and delivery alerts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", defaultServer(), "loyalty service base URL")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewRedeemCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRewardsCommand(opts))
	cmd.AddCommand(NewAlertsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// uuidFlag parses a required UUID flag value.
func uuidFlag(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a UUID", name))
	}
	return id, nil
}
