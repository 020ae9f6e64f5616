package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/app"
	appctx "github.com/Ramsey-B/clover/pkg/context"
)

type jobOptions struct {
	tenant string
	actor  string
}

func (o *jobOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&o.actor, "actor", "cli", "actor recorded on merges and feedback")
	_ = cmd.MarkFlagRequired("tenant")
}

func (o *jobOptions) validate() error {
	if _, err := uuid.Parse(o.tenant); err != nil {
		return fmt.Errorf("invalid --tenant: %w", err)
	}
	return nil
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		job        jobOptions
		connection string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull every entity type of one connection now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := job.validate(); err != nil {
				return err
			}
			connectionID, err := uuid.Parse(connection)
			if err != nil {
				return fmt.Errorf("invalid --connection: %w", err)
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := appctx.WithTenant(cmd.Context(), job.tenant, job.actor)
			report, err := a.Syncer.SyncNow(ctx, connectionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	job.bind(cmd)
	cmd.Flags().StringVar(&connection, "connection", "", "connection id")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func newDetectCommand(opts *rootOptions) *cobra.Command {
	var (
		job           jobOptions
		entityType    string
		minSimilarity float64
		resume        string
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Find duplicate groups for an entity type, or resume a stopped job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := job.validate(); err != nil {
				return err
			}
			if resume == "" && entityType == "" {
				return fmt.Errorf("--entity-type is required unless --resume is set")
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := appctx.WithTenant(cmd.Context(), job.tenant, job.actor)
			if resume != "" {
				jobID, err := uuid.Parse(resume)
				if err != nil {
					return fmt.Errorf("invalid --resume: %w", err)
				}
				result, err := a.Detector.Resume(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			result, err := a.Detector.Detect(ctx, entityType, minSimilarity)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	job.bind(cmd)
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type to scan, e.g. contact")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "minimum pair score, 0 uses the configured default")
	cmd.Flags().StringVar(&resume, "resume", "", "id of a detection job to continue")
	return cmd
}
