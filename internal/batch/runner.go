// Package batch drives a resumable classification run over a video corpus.
//
// The runner reconciles the corpus against the checkpoint, classifies each
// remaining video in sorted order, records failures instead of aborting and
// rewrites the whole checkpoint after every video. An interrupted run loses
// at most the video that was in flight; rerunning picks up where it stopped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdougie/vidclassify/internal/classifier"
	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/corpus"
	"github.com/bdougie/vidclassify/internal/embeddings"
	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/metrics"
	"github.com/bdougie/vidclassify/internal/models"
	"github.com/bdougie/vidclassify/internal/storage"
)

// Summary describes what a run did.
type Summary struct {
	// Considered is the number of videos in the selected range.
	Considered int
	Skipped    int
	Succeeded  int
	Failed     int
	// Total is the number of results in the checkpoint after the run.
	Total    int
	Duration time.Duration
}

// Processed is the number of videos classified during this run.
func (s Summary) Processed() int {
	return s.Succeeded + s.Failed
}

// Runner owns the in-memory checkpoint for the duration of a run.
type Runner struct {
	corpusDir  string
	extensions []string
	startFrom  int
	endAt      int
	labels     labels.Set

	store    storage.Store
	strategy classifier.Strategy
	logger   *slog.Logger
	sleep    classifier.Sleeper
}

// Option customizes the runner.
type Option func(*Runner)

// WithSleeper overrides how the pause between paced requests is performed.
func WithSleeper(sleep classifier.Sleeper) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner validates the label set and range in cfg and wires the runner.
func NewRunner(cfg config.Config, store storage.Store, strategy classifier.Strategy, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if store == nil || strategy == nil {
		return nil, errors.New("batch runner: store and strategy are required")
	}
	set, err := cfg.LabelSet()
	if err != nil {
		return nil, err
	}
	if cfg.StartFrom < 1 {
		return nil, fmt.Errorf("%w: start_from must be >= 1, got %d", config.ErrConfiguration, cfg.StartFrom)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		corpusDir:  cfg.CorpusDir,
		extensions: cfg.Extensions,
		startFrom:  cfg.StartFrom,
		endAt:      cfg.EndAt,
		labels:     set,
		store:      store,
		strategy:   strategy,
		logger:     logger,
		sleep:      classifier.SleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes the selected range. Item failures become failure records;
// only configuration problems, checkpoint I/O errors and cancellation end a
// run early.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	var summary Summary

	items, err := corpus.Enumerate(r.corpusDir, r.extensions)
	if err != nil {
		return summary, err
	}
	items = corpus.Slice(items, r.startFrom, r.endAt)
	summary.Considered = len(items)

	results, err := r.store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	results, dropped := storage.Dedupe(results)
	if len(dropped) > 0 {
		r.logger.Warn("checkpoint had duplicate rows, keeping the first of each", "files", dropped)
	}
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		seen[res.Filename] = true
	}
	if len(results) > 0 {
		r.logger.Info("resuming from checkpoint", "already_processed", len(results), "backend", r.store.Name())
	}

	var pace time.Duration
	if paced, ok := r.strategy.(classifier.Paced); ok {
		pace = paced.PaceInterval()
	}

	r.logger.Info("starting classification",
		"videos", len(items), "labels", r.labels.Len(), "strategy", r.strategy.Name(), "checkpoint", r.store.Name())

	total := len(items)
	for idx, item := range items {
		position := fmt.Sprintf("%d/%d", idx+1, total)
		if seen[item.Filename] {
			r.logger.Info("skipping (already processed)", "item", position, "file", item.Filename)
			metrics.ItemsTotal.WithLabelValues("skipped").Inc()
			summary.Skipped++
			continue
		}

		r.logger.Info("processing", "item", position, "file", item.Filename)
		result, err := r.classify(ctx, item)
		if err != nil {
			// cancelled mid-item: the last checkpoint stays the resume point
			summary.Total = len(results)
			summary.Duration = time.Since(started)
			return summary, err
		}
		if result.Failed() {
			summary.Failed++
		} else {
			summary.Succeeded++
		}

		results = append(results, result)
		seen[item.Filename] = true
		if err := r.store.Save(ctx, results); err != nil {
			summary.Total = len(results) - 1
			summary.Duration = time.Since(started)
			return summary, fmt.Errorf("failed to write checkpoint after %s: %w", item.Filename, err)
		}
		metrics.CheckpointWrites.WithLabelValues(r.store.Name()).Inc()

		if pace > 0 && idx < total-1 {
			if err := r.sleep(ctx, pace); err != nil {
				summary.Total = len(results)
				summary.Duration = time.Since(started)
				return summary, err
			}
		}
	}

	summary.Total = len(results)
	summary.Duration = time.Since(started)
	r.logger.Info("classification complete",
		"processed", summary.Processed(), "skipped", summary.Skipped, "failed", summary.Failed,
		"checkpoint_total", summary.Total, "elapsed", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// classify turns any strategy failure into a failure record. It only returns
// an error when ctx is done.
func (r *Runner) classify(ctx context.Context, item models.WorkItem) (models.ClassificationResult, error) {
	start := time.Now()
	pred, err := r.strategy.Classify(ctx, item, r.labels)
	metrics.ClassifyDuration.WithLabelValues(r.strategy.Name()).Observe(time.Since(start).Seconds())

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("interrupted, in-flight video not recorded", "file", item.Filename)
		return models.ClassificationResult{}, ctxErr
	}
	if err != nil {
		r.logger.Error("classification failed", "file", item.Filename, "error", err)
		metrics.ItemsTotal.WithLabelValues("failure").Inc()
		return models.FailureResult(item, err), nil
	}

	r.logger.Info("predicted", "file", item.Filename, "label", pred.Label, "confidence", fmt.Sprintf("%.3f", pred.Confidence))
	metrics.ItemsTotal.WithLabelValues("success").Inc()
	return models.SuccessResult(item, pred, embeddings.ScoreVector(r.labels, pred.Candidates)), nil
}
