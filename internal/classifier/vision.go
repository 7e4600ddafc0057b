package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bdougie/vidclassify/internal/extractor"
	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/metrics"
	"github.com/bdougie/vidclassify/internal/models"
)

// FrameSampler writes count stills of a video and returns their paths.
type FrameSampler func(ctx context.Context, videoPath, outputDir string, count int) ([]string, error)

// LocalVision samples frames from the video and asks a local vision model to
// pick a label for each. Votes are weighted by the model's confidence.
type LocalVision struct {
	model    VisionModel
	sample   FrameSampler
	frameDir string
	frames   int
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewLocalVision builds the local vision strategy. A nil sampler uses ffmpeg.
func NewLocalVision(model VisionModel, sample FrameSampler, frameDir string, frames int, policy RetryPolicy, logger *slog.Logger) *LocalVision {
	if sample == nil {
		sample = extractor.SampleFrames
	}
	if logger == nil {
		logger = slog.Default()
	}
	if frames < 1 {
		frames = 1
	}
	return &LocalVision{
		model:    model,
		sample:   sample,
		frameDir: frameDir,
		frames:   frames,
		policy:   policy,
		logger:   logger,
	}
}

func (v *LocalVision) Name() string { return "local-vision" }

type frameVote struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify returns the label with the highest summed confidence across
// frames. Its confidence is that sum divided by the number of frames sampled.
func (v *LocalVision) Classify(ctx context.Context, item models.WorkItem, set labels.Set) (models.Prediction, error) {
	frames, err := v.sample(ctx, item.Path, v.frameDir, v.frames)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Prediction{}, ctxErr
		}
		return models.Prediction{}, &ClassificationError{Reason: ReasonFrameExtraction, Err: err}
	}
	if len(frames) == 0 {
		return models.Prediction{}, &ClassificationError{Reason: ReasonFrameExtraction, Err: errors.New("no frames produced")}
	}

	prompt := votePrompt(set)
	totals := make(map[string]float64)
	var lastErr error
	for i, frame := range frames {
		vote, err := v.voteWithRetry(ctx, prompt, frame, set)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.Prediction{}, ctxErr
			}
			lastErr = err
			v.logger.Warn("frame vote failed", "file", item.Filename, "frame", i+1, "error", err)
			continue
		}
		totals[vote.Label] += clampConfidence(vote.Confidence)
	}
	if len(totals) == 0 {
		return models.Prediction{}, &ClassificationError{Reason: ReasonEmptyResult, Err: lastErr}
	}

	ranking := make([]models.Candidate, 0, len(totals))
	for _, name := range set.Names() {
		if total, ok := totals[name]; ok {
			ranking = append(ranking, models.Candidate{Label: name, Score: total / float64(len(frames))})
		}
	}
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Score > ranking[j].Score })

	return models.Prediction{
		Label:      ranking[0].Label,
		Confidence: clampConfidence(ranking[0].Score),
		Candidates: ranking,
	}, nil
}

func (v *LocalVision) voteWithRetry(ctx context.Context, prompt, frame string, set labels.Set) (frameVote, error) {
	attempts := v.policy.attempts()
	for attempt := 1; ; attempt++ {
		vote, err := v.vote(ctx, prompt, frame, set)
		if err == nil {
			return vote, nil
		}
		if ctx.Err() != nil || attempt >= attempts {
			return frameVote{}, err
		}
		metrics.RetriesTotal.WithLabelValues(v.Name(), "error").Inc()
		if err := v.policy.sleep(ctx, v.policy.RetryDelay); err != nil {
			return frameVote{}, err
		}
	}
}

func (v *LocalVision) vote(ctx context.Context, prompt, frame string, set labels.Set) (frameVote, error) {
	answer, err := v.model.Describe(ctx, prompt, frame)
	if err != nil {
		return frameVote{}, err
	}
	var vote frameVote
	if err := decodeModelJSON(answer, &vote); err != nil {
		return frameVote{}, &ClassificationError{Reason: ReasonUnexpectedFormat, Err: err}
	}
	label, ok := set.Match(vote.Label)
	if !ok {
		return frameVote{}, &ClassificationError{Reason: ReasonUnknownLabel, Err: fmt.Errorf("%q", vote.Label)}
	}
	vote.Label = label
	return vote, nil
}

func votePrompt(set labels.Set) string {
	var b strings.Builder
	b.WriteString("Which one of the following actions is being performed in this image? ")
	b.WriteString("Reply with JSON only, in the form {\"label\": \"<one label copied from the list>\", \"confidence\": <number between 0 and 1>}.\n")
	b.WriteString("Labels:\n")
	for _, name := range set.Names() {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return b.String()
}
