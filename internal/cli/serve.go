package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/app"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, sync worker and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.DatabaseMigrateOnStart {
				if err := a.Migrate(); err != nil {
					return err
				}
			}
			return a.Serve(cmd.Context())
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return app.MigrateDatabase(cmd.Context(), cfg, logger)
		},
	}
}
