package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/members"
	"github.com/harrylevesque/memberhub/internal/models"
)

// NewRoleCommand creates the role command. It is the way to appoint the
// first admin of a fresh deployment.
func NewRoleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "role <email> <member|moderator|admin>",
		Short: "Change a member's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := rootOpts.env(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := members.NewService(e.Store, e.Store).SetRoleByEmail(cmd.Context(), args[0], models.Role(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", m.Email, m.Role)
			return nil
		},
	}
}
