package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/challenges"
)

// NewChallengesCommand groups challenge maintenance subcommands.
func NewChallengesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "Challenge maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Start and complete challenges whose dates have passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, e, err := rootOpts.env(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := challenges.NewService(e.Store, e.Cache, cfg.Leaderboard.CacheTTL).SyncStatuses(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d challenge status changes\n", n)
			return nil
		},
	})
	return cmd
}
