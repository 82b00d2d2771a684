package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type StatusOptions struct {
	*RootOptions
	Business string
	Customer string
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a customer's loyalty card",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Business, "business", "", "business id (required)")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "customer id (required)")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}
	customerID, err := uuidFlag("customer", opts.Customer)
	if err != nil {
		return err
	}

	status, err := opts.NewService(opts.RootOptions).CustomerStatus(cmd.Context(), businessID, customerID)
	if err != nil {
		return requestError("status failed", err)
	}

	return render(cmd.OutOrStdout(), opts.Format, status, func(w io.Writer) error {
		fmt.Fprintf(w, "customer:  %s\n", status.CustomerID)
		fmt.Fprintf(w, "total:     %d\n", status.TotalCount)
		fmt.Fprintf(w, "progress:  %d/%d\n", status.ProgressToNextReward, status.Threshold)
		fmt.Fprintf(w, "redeemed:  %d\n", status.RedeemedCount)
		if len(status.PendingRewards) == 0 {
			fmt.Fprintln(w, "pending:   none")
			return nil
		}
		fmt.Fprintln(w, "pending:")
		for _, r := range status.PendingRewards {
			fmt.Fprintf(w, "  #%-3d %s  earned %s\n", r.Sequence, r.RewardID, r.EarnedAt.UTC().Format(time.RFC3339))
		}
		return nil
	})
}
