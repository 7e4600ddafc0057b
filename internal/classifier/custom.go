package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/metrics"
	"github.com/bdougie/vidclassify/internal/models"
)

// EndpointClient posts a JSON payload and returns the raw response.
type EndpointClient interface {
	Post(ctx context.Context, payload any) (json.RawMessage, error)
}

type customRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters customParameters `json:"parameters"`
}

type customParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	TopK            int      `json:"top_k"`
}

// CustomEndpoint posts base64 video to a dedicated endpoint serving a video
// model (VideoMAE, TimeSformer and the like) and asks for the best match only.
type CustomEndpoint struct {
	client EndpointClient
	policy RetryPolicy
	logger *slog.Logger
}

// NewCustomEndpoint builds the dedicated endpoint strategy.
func NewCustomEndpoint(client EndpointClient, policy RetryPolicy, logger *slog.Logger) *CustomEndpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomEndpoint{client: client, policy: policy, logger: logger}
}

func (c *CustomEndpoint) Name() string { return "custom" }

// Classify retries every failure after a fixed wait until the last attempt.
// Malformed responses count as failures too.
func (c *CustomEndpoint) Classify(ctx context.Context, item models.WorkItem, set labels.Set) (models.Prediction, error) {
	media, err := os.ReadFile(item.Path)
	if err != nil {
		return models.Prediction{}, &ClassificationError{Reason: ReasonReadVideo, Err: err}
	}
	payload := customRequest{
		Inputs: base64.StdEncoding.EncodeToString(media),
		Parameters: customParameters{
			CandidateLabels: set.Names(),
			TopK:            1,
		},
	}

	attempts := c.policy.attempts()
	for attempt := 1; ; attempt++ {
		pred, err := c.classifyOnce(ctx, set, payload)
		if err == nil {
			return pred, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Prediction{}, ctxErr
		}
		if attempt >= attempts {
			var classErr *ClassificationError
			if errors.As(err, &classErr) {
				return models.Prediction{}, err
			}
			return models.Prediction{}, &ClassificationError{Reason: ReasonRemote, Err: err}
		}
		c.logger.Warn("endpoint error, retrying",
			"file", item.Filename, "attempt", attempt, "max_attempts", attempts,
			"wait", c.policy.RetryDelay, "error", err)
		metrics.RetriesTotal.WithLabelValues(c.Name(), "error").Inc()
		if err := c.policy.sleep(ctx, c.policy.RetryDelay); err != nil {
			return models.Prediction{}, err
		}
	}
}

func (c *CustomEndpoint) classifyOnce(ctx context.Context, set labels.Set, payload customRequest) (models.Prediction, error) {
	body, err := c.client.Post(ctx, payload)
	if err != nil {
		return models.Prediction{}, err
	}
	ranking, err := parseRanking(body)
	if err != nil {
		return models.Prediction{}, err
	}
	return topPrediction(set, ranking), nil
}

// parseRanking accepts a non-empty list of {label, score}. A missing score
// reads as zero.
func parseRanking(body json.RawMessage) ([]models.Candidate, error) {
	var raw []struct {
		Label string   `json:"label"`
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 || strings.TrimSpace(raw[0].Label) == "" {
		return nil, &ClassificationError{Reason: ReasonUnexpectedFormat, Err: errors.New(snippet(string(body)))}
	}
	ranking := make([]models.Candidate, 0, len(raw))
	for _, r := range raw {
		c := models.Candidate{Label: r.Label}
		if r.Score != nil {
			c.Score = *r.Score
		}
		ranking = append(ranking, c)
	}
	return ranking, nil
}

// snippet shortens a response body for an error message. The result is
// always valid UTF-8 so it can be stored in any checkpoint backend.
func snippet(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if s == "" {
		return "<empty body>"
	}
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
