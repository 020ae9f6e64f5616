// Package cli defines the clover command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/app"
)

// Version is set by main at build time.
var Version = "dev"

type rootOptions struct {
	envFile string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "clover",
		Short:         "Multi-source record sync and deduplication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSyncCommand(opts),
		newDetectCommand(opts),
	)
	return cmd
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}
	return 0
}

func (o *rootOptions) load() (*config.Config, ectologger.Logger, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Version == "dev" {
		cfg.Version = Version
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
