package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"loyalnexus/internal/loyalty"
)

type RewardsOptions struct {
	*RootOptions
	Business string
	State    string
}

func NewRewardsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewardsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "List a business's rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewards(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Business, "business", "", "business id (required)")
	cmd.Flags().StringVar(&opts.State, "state", "", "filter by state (earned|redeemed)")
	_ = cmd.MarkFlagRequired("business")

	return cmd
}

func runRewards(cmd *cobra.Command, opts *RewardsOptions) error {
	businessID, err := uuidFlag("business", opts.Business)
	if err != nil {
		return err
	}
	var state loyalty.RewardState
	if opts.State != "" {
		if state, err = loyalty.ParseRewardState(opts.State); err != nil {
			return WrapExitError(ExitCommandError, "invalid --state", err)
		}
	}

	rewards, err := opts.NewService(opts.RootOptions).ListRewards(cmd.Context(), businessID, state)
	if err != nil {
		return requestError("list rewards failed", err)
	}

	return render(cmd.OutOrStdout(), opts.Format, rewards, func(w io.Writer) error {
		if len(rewards) == 0 {
			fmt.Fprintln(w, "no rewards")
			return nil
		}
		fmt.Fprintf(w, "%-4s %-9s %-36s %-36s %s\n", "SEQ", "STATE", "REWARD", "CUSTOMER", "EARNED")
		for _, r := range rewards {
			fmt.Fprintf(w, "%-4d %-9s %-36s %-36s %s\n", r.Sequence, r.State, r.ID, r.CustomerID, r.EarnedAt.UTC().Format(time.RFC3339))
		}
		return nil
	})
}
