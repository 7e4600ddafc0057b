package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdougie/vidclassify/internal/batch"
	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/metrics"
	"github.com/bdougie/vidclassify/internal/report"
	"github.com/bdougie/vidclassify/internal/storage"
)

// runFlags mirror the config keys that are commonly overridden per run.
type runFlags struct {
	corpus      string
	strategy    string
	endpointURL string
	model       string
	start       int
	end         int
	backend     string
	checkpoint  string
	dsn         string
	metricsAddr string
	frames      int
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.corpus, "corpus", "", "Directory holding <id>.mp4 videos")
	flags.StringVar(&f.strategy, "strategy", "", "Classification strategy: zero-shot, custom or local-vision")
	flags.StringVar(&f.endpointURL, "endpoint-url", "", "Dedicated inference endpoint URL")
	flags.StringVar(&f.model, "model", "", "Shared model id used when no endpoint is set")
	flags.IntVar(&f.start, "start", 0, "1-based position of the first video to consider")
	flags.IntVar(&f.end, "end", 0, "1-based position of the last video to consider (0 = all)")
	flags.StringVar(&f.backend, "backend", "", "Checkpoint backend: csv, sqlite or postgres")
	flags.StringVar(&f.checkpoint, "checkpoint", "", "Checkpoint file path for the csv and sqlite backends")
	flags.StringVar(&f.dsn, "dsn", "", "PostgreSQL connection string for the postgres backend")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.IntVar(&f.frames, "frames", 0, "Frames sampled per video by the local-vision strategy")
}

// apply copies only the flags the user set, so file and environment values
// survive otherwise.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("corpus") {
		cfg.CorpusDir = f.corpus
	}
	if changed("strategy") {
		cfg.Strategy = f.strategy
	}
	if changed("endpoint-url") {
		cfg.EndpointURL = f.endpointURL
	}
	if changed("model") {
		cfg.DefaultModel = f.model
	}
	if changed("start") {
		cfg.StartFrom = f.start
	}
	if changed("end") {
		cfg.EndAt = f.end
	}
	if changed("backend") {
		cfg.Checkpoint.Backend = f.backend
	}
	if changed("checkpoint") {
		cfg.Checkpoint.Path = f.checkpoint
	}
	if changed("dsn") {
		cfg.Checkpoint.DSN = f.dsn
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("frames") {
		cfg.Vision.Frames = f.frames
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify every unprocessed video in the corpus",
		Long: `Classify every video in the selected range that is not already in the
checkpoint. The checkpoint is rewritten after each video, so an interrupted
run can simply be started again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBatch(cmd, ctx, cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

func runBatch(cmd *cobra.Command, cc *commandContext, cfg config.Config) error {
	logger := cc.newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	set, err := cfg.LabelSet()
	if err != nil {
		return err
	}

	strategy, err := buildStrategy(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Checkpoint, set.Len(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close checkpoint", "error", err)
		}
	}()

	runner, err := batch.NewRunner(cfg, store, strategy, logger)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx)
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderSummary(summary))
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderSummary(summary))
		logger.Warn("run interrupted; progress is saved, rerun to resume", "checkpoint_total", summary.Total)
	}
	return err
}
