package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type AlertsOptions struct {
	*RootOptions
	Business string
	All      bool
}

// NewAlertsCommand lists delivery alerts and acknowledges them.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlertsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List notification delivery alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(cmd, opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Business, "business", "", "business id (required)")
	_ = cmd.MarkPersistentFlagRequired("business")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include acknowledged alerts")

	ack := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge a delivery alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAck(cmd, opts, args[0])
		},
	}
	cmd.AddCommand(ack)

	return cmd
}

func runAlerts(cmd *cobra.Command, opts *AlertsOptions) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}

	alerts, err := opts.NewService(opts.RootOptions).ListAlerts(cmd.Context(), businessID, opts.All)
	if err != nil {
		return requestError("list alerts failed", err)
	}

	return render(cmd.OutOrStdout(), opts.Format, alerts, func(w io.Writer) error {
		if len(alerts) == 0 {
			fmt.Fprintln(w, "no alerts")
			return nil
		}
		for _, a := range alerts {
			kind := "transient"
			if a.Permanent {
				kind = "permanent"
			}
			acked := ""
			if a.AcknowledgedAt != nil {
				acked = " (acknowledged)"
			}
			fmt.Fprintf(w, "%s %-8s %-9s reward %s: %s%s\n", a.ID, a.Channel, kind, a.RewardID, a.Reason, acked)
		}
		return nil
	})
}

func runAck(cmd *cobra.Command, opts *AlertsOptions, rawID string) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}
	alertID, err := uuidFlag("alert-id", rawID)
	if err != nil {
		return err
	}

	if err := opts.NewService(opts.RootOptions).AcknowledgeAlert(cmd.Context(), businessID, alertID); err != nil {
		return requestError("acknowledge failed", err)
	}
	if opts.Format == "json" {
		return render(cmd.OutOrStdout(), opts.Format, map[string]any{"acknowledged": alertID}, nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s\n", alertID)
	return nil
}
