package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/challenges"
	"github.com/harrylevesque/memberhub/internal/members"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import or update members from a CSV roster",
		Long: `Import members from a CSV file with a header row.

The email column is required. Known columns are first_name, last_name,
phone, branch, chapter, status and expires_at; others are ignored. Existing
members are matched by email and updated in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cfg, e, err := rootOpts.env(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := members.NewService(e.Store, e.Store)
			svc.SetLeaderboard(challenges.NewService(e.Store, e.Cache, cfg.Leaderboard.CacheTTL))
			res, err := svc.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "inserted %d, updated %d, rejected %d\n", res.Inserted, res.Updated, len(res.Errors))
			for _, ie := range res.Errors {
				if ie.Email != "" {
					fmt.Fprintf(out, "  line %d (%s): %s\n", ie.Line, ie.Email, ie.Message)
					continue
				}
				fmt.Fprintf(out, "  line %d: %s\n", ie.Line, ie.Message)
			}
			return nil
		},
	}
}
