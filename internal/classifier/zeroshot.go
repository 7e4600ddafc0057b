package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bdougie/vidclassify/internal/inference"
	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/metrics"
	"github.com/bdougie/vidclassify/internal/models"
)

// ZeroShotClient ranks media against caller supplied labels.
type ZeroShotClient interface {
	ZeroShot(ctx context.Context, media []byte, labels []string) ([]models.Candidate, error)
}

// ZeroShot classifies the raw video bytes against the whole label set in one
// call to a general purpose model.
type ZeroShot struct {
	client ZeroShotClient
	policy RetryPolicy
	pace   time.Duration
	logger *slog.Logger
}

// NewZeroShot builds the zero-shot strategy. pace is the pause the batch
// inserts between items.
func NewZeroShot(client ZeroShotClient, policy RetryPolicy, pace time.Duration, logger *slog.Logger) *ZeroShot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZeroShot{client: client, policy: policy, pace: pace, logger: logger}
}

func (z *ZeroShot) Name() string { return "zero-shot" }

// PaceInterval marks the shared model as rate limited.
func (z *ZeroShot) PaceInterval() time.Duration { return z.pace }

// Classify retries rate-limit signals with a linearly growing wait and
// network signals with a fixed wait while attempts remain. Anything else
// fails immediately.
func (z *ZeroShot) Classify(ctx context.Context, item models.WorkItem, set labels.Set) (models.Prediction, error) {
	media, err := os.ReadFile(item.Path)
	if err != nil {
		return models.Prediction{}, &ClassificationError{Reason: ReasonReadVideo, Err: err}
	}
	names := set.Names()
	attempts := z.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		ranking, err := z.client.ZeroShot(ctx, media, names)
		if err == nil {
			if len(ranking) == 0 {
				return models.Prediction{}, &ClassificationError{Reason: ReasonEmptyResult}
			}
			return topPrediction(set, ranking), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Prediction{}, ctxErr
		}
		lastErr = err

		var transient *inference.TransientError
		if errors.As(err, &transient) {
			switch {
			case transient.Kind == inference.RateLimited:
				wait := z.policy.rateLimitDelay(attempt)
				z.logger.Warn("rate limit hit, backing off",
					"file", item.Filename, "attempt", attempt, "max_attempts", attempts, "wait", wait)
				metrics.RetriesTotal.WithLabelValues(z.Name(), transient.Kind.String()).Inc()
				if err := z.policy.sleep(ctx, wait); err != nil {
					return models.Prediction{}, err
				}
				continue
			case transient.Kind == inference.Network && attempt < attempts:
				z.logger.Warn("network error, retrying",
					"file", item.Filename, "attempt", attempt, "max_attempts", attempts,
					"wait", z.policy.RetryDelay, "error", err)
				metrics.RetriesTotal.WithLabelValues(z.Name(), transient.Kind.String()).Inc()
				if err := z.policy.sleep(ctx, z.policy.RetryDelay); err != nil {
					return models.Prediction{}, err
				}
				continue
			}
		}
		return models.Prediction{}, &ClassificationError{Reason: ReasonRemote, Err: err}
	}
	return models.Prediction{}, &ClassificationError{Reason: ReasonMaxRetries, Err: fmt.Errorf("after %d attempts: %w", attempts, lastErr)}
}

func topPrediction(set labels.Set, ranking []models.Candidate) models.Prediction {
	best := ranking[0]
	label := best.Label
	if canonical, ok := set.Match(label); ok {
		label = canonical
	}
	return models.Prediction{
		Label:      label,
		Confidence: clampConfidence(best.Score),
		Candidates: ranking,
	}
}
