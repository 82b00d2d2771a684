package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type RedeemOptions struct {
	*RootOptions
	Business string
	Reward   string
	Owner    string
}

func NewRedeemCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RedeemOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Redeem an earned reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedeem(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Business, "business", "", "business id (required)")
	cmd.Flags().StringVar(&opts.Reward, "reward", "", "reward id (required)")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner actor id (required)")
	for _, name := range []string{"business", "reward", "owner"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runRedeem(cmd *cobra.Command, opts *RedeemOptions) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}
	rewardID, err := uuidFlag("reward", opts.Reward)
	if err != nil {
		return err
	}
	ownerID, err := uuidFlag("owner", opts.Owner)
	if err != nil {
		return err
	}

	result, err := opts.NewService(opts.RootOptions).Redeem(cmd.Context(), businessID, rewardID, ownerID)
	if err != nil {
		return requestError("redeem failed", err)
	}

	return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
		r := result.Reward
		at := "-"
		if r.RedeemedAt != nil {
			at = r.RedeemedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "redeemed reward #%d %s for customer %s at %s\n", r.Sequence, r.ID, r.CustomerID, at)
		return nil
	})
}
