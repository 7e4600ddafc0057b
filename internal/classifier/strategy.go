// Package classifier turns one video into one labelled prediction.
//
// Three strategies share the same capability: ZeroShot ranks the raw video
// against every label on the shared hosted model, CustomEndpoint posts a
// model-specific payload to a dedicated endpoint, and LocalVision asks a
// local ollama vision model about sampled frames.
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/models"
)

// Strategy classifies a single work item against a label set.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, item models.WorkItem, set labels.Set) (models.Prediction, error)
}

// Paced is implemented by strategies that need a pause between items to stay
// under a remote rate limit.
type Paced interface {
	PaceInterval() time.Duration
}

// Failure reasons carried by ClassificationError.
const (
	ReasonEmptyResult      = "empty result"
	ReasonUnexpectedFormat = "unexpected response format"
	ReasonMaxRetries       = "max retries exceeded"
	ReasonRemote           = "remote call failed"
	ReasonReadVideo        = "read video"
	ReasonUnknownLabel     = "label not in label set"
	ReasonFrameExtraction  = "frame extraction"
)

// ClassificationError means a strategy could not produce a prediction for an
// item. The batch records it against the item and moves on.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
