package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/crypto"
)

// NewGenMasterKeyCommand creates the genmasterkey command. It never needs
// the database.
func NewGenMasterKeyCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "genmasterkey",
		Short: "Write a new random master key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%s already exists, refusing to overwrite", out)
			}
			if err != nil {
				return err
			}
			if _, err := f.WriteString(key + "\n"); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "master key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "master.key", "file to write the hex-encoded key to")
	return cmd
}
