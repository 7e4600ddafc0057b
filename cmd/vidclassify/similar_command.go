package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/report"
	"github.com/bdougie/vidclassify/internal/storage"
)

func newSimilarCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var videoID int
	var limit int

	cmd := &cobra.Command{
		Use:   "similar",
		Short: "List videos whose label scores are closest to a given video",
		RunE: func(cmd *cobra.Command, args []string) error {
			if videoID < 0 {
				return fmt.Errorf("--video-id must not be negative")
			}
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if cfg.Checkpoint.Backend != config.BackendPostgres {
				return fmt.Errorf("%w: similar requires the %s checkpoint backend, got %q",
					config.ErrConfiguration, config.BackendPostgres, cfg.Checkpoint.Backend)
			}
			set, err := cfg.LabelSet()
			if err != nil {
				return err
			}
			logger := ctx.newLogger(cmd, cfg)

			store, err := storage.NewPostgresStore(cmd.Context(), cfg.Checkpoint.DSN, set.Len(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			matches, err := store.SimilarVideos(cmd.Context(), videoID, limit)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No scored neighbours for video %d\n", videoID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderSimilar(matches))
			return nil
		},
	}
	cmd.Flags().IntVar(&videoID, "video-id", 0, "Video id to compare against")
	cmd.Flags().IntVar(&limit, "limit", 5, "Number of neighbours to list")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "Checkpoint backend (must be postgres)")
	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "PostgreSQL connection string")
	_ = cmd.MarkFlagRequired("video-id")
	return cmd
}
