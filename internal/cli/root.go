// Package cli implements memberctl, the maintenance command line for a
// memberhub deployment.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/memberhub/internal/app"
	"github.com/harrylevesque/memberhub/internal/cache"
	"github.com/harrylevesque/memberhub/internal/challenges"
	"github.com/harrylevesque/memberhub/internal/config"
	"github.com/harrylevesque/memberhub/internal/members"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// Backend is the storage surface the maintenance commands need.
type Backend interface {
	members.Store
	members.Feed
	challenges.Store
}

// Env is an opened backend plus the cache shared with the server.
type Env struct {
	Store Backend
	Cache cache.Cache
	Close func()
}

// Opener connects to the configured backends.
type Opener func(ctx context.Context, cfg *config.Config) (*Env, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	open Opener
}

// NewRootCommand creates the memberctl root command backed by Postgres and
// (when configured) Redis.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openBackends)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "memberctl",
		Short:         "memberhub maintenance tool",
		Long:          "Schema migrations, member imports, role changes and key generation for a memberhub deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.InitLoggerTo(cmd.ErrOrStderr(), opts.LogLevel, "console")
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "memberhub.yaml", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewRoleCommand(opts))
	cmd.AddCommand(NewChallengesCommand(opts))
	cmd.AddCommand(NewGenMasterKeyCommand())

	return cmd
}

// env reads the config and opens the backend. Callers must call Close.
func (o *RootOptions) env(ctx context.Context) (*config.Config, *Env, error) {
	cfg, err := config.Read(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	e, err := o.open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, e, nil
}

func openBackends(ctx context.Context, cfg *config.Config) (*Env, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url (DATABASE_URL) is required")
	}
	b, err := app.OpenBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Env{Store: b.Store, Cache: b.Cache, Close: b.Close}, nil
}
