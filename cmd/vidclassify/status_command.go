package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/vidclassify/internal/report"
	"github.com/bdougie/vidclassify/internal/storage"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the results stored in the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			set, err := cfg.LabelSet()
			if err != nil {
				return err
			}
			logger := ctx.newLogger(cmd, cfg)

			store, err := storage.Open(cmd.Context(), cfg.Checkpoint, set.Len(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			results, _ = storage.Dedupe(results)
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderStatus(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.backend, "backend", "", "Checkpoint backend: csv, sqlite or postgres")
	cmd.Flags().StringVar(&flags.checkpoint, "checkpoint", "", "Checkpoint file path for the csv and sqlite backends")
	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "PostgreSQL connection string for the postgres backend")
	return cmd
}
