package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/wfstore/internal/host"
)

// ServeCmd returns the serve command
func ServeCmd(opts *rootOptions) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, cmd.ErrOrStderr(), func(app *host.App) error {
				if app.Config.Store.AutoMigrate && !skipMigrate {
					if err := app.Migrate(ctx); err != nil {
						return err
					}
				}
				return app.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not provision the schema even if store.auto_migrate is set")
	return cmd
}

// MigrateCmd returns the migrate command
func MigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Apply every pending schema migration to the configured store.
When lock.redis_addr is set, concurrent runs from several hosts are
serialised through a Redis lease.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(app *host.App) error {
				if err := app.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Store %s is up to date\n", app.Config.Store.Driver)
				return nil
			})
		},
	}
}
