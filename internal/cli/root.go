// Package cli implements the wfstore-admin command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/petrijr/wfstore/internal/config"
	"github.com/petrijr/wfstore/internal/host"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCmd returns the wfstore-admin root command with every subcommand
// attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "wfstore-admin",
		Short:   "Administer a workflow persistence store",
		Version: Version,
		Long: `wfstore-admin hosts the workflow store admin API and offers
maintenance commands against the configured store (sqlite, postgres, mysql,
mongo or memory).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a YAML config file (env WFSTORE_* overrides apply)")

	rootCmd.AddCommand(ServeCmd(opts))
	rootCmd.AddCommand(MigrateCmd(opts))
	rootCmd.AddCommand(InstancesCmd(opts))
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

// withApp loads the configuration, builds the host and hands it to fn. The
// app is closed when fn returns.
func withApp(ctx context.Context, opts *rootOptions, logOut io.Writer, fn func(*host.App) error) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := host.NewLogger(cfg.Log, logOut)
	if err != nil {
		return err
	}
	app, err := host.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	return fn(app)
}
