package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"loyalnexus/internal/loyalty"
)

type ScanOptions struct {
	*RootOptions
	Business string
	Email    string
	Token    string
}

func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Submit a purchase scan",
		Long: `Submit one purchase scan for a customer.

Retrying with the same --token never credits the purchase twice. When
--token is omitted a fresh one is generated.

Examples:
  loyaltyctl scan --business 6f1c... --email ada@example.com
  loyaltyctl scan --business 6f1c... --email ada@example.com --token receipt-0042`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Business, "business", "", "business id (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "customer email (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "scan token")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}
	token := opts.Token
	if token == "" {
		token = uuid.NewString()
	}

	result, err := opts.NewService(opts.RootOptions).SubmitScan(cmd.Context(), loyalty.ScanRequest{
		BusinessID:      businessID,
		CustomerEmail:   opts.Email,
		ScanToken:       token,
		ClientTimestamp: time.Now().UTC(),
	})
	if err != nil {
		return requestError("scan failed", err)
	}

	return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
		fmt.Fprintf(w, "accepted:  %t\n", result.Accepted)
		fmt.Fprintf(w, "duplicate: %t\n", result.Duplicate)
		fmt.Fprintf(w, "total:     %d\n", result.TotalCount)
		fmt.Fprintf(w, "progress:  %d/%d\n", result.ProgressToNextReward, result.Threshold)
		if result.RewardEarned != nil {
			fmt.Fprintf(w, "reward:    #%d %s\n", result.RewardEarned.Sequence, result.RewardEarned.RewardID)
		} else {
			fmt.Fprintln(w, "reward:    none")
		}
		return nil
	})
}
