package models

import "strings"

// WorkItem represents a video file to be classified
type WorkItem struct {
	VideoID  int
	Filename string
	Path     string
}

// Candidate is a single label/score pair returned by a model
type Candidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Prediction is what a classification strategy produces for one video.
// Candidates holds the full ranking when the remote service returns one.
type Prediction struct {
	Label      string
	Confidence float64
	Candidates []Candidate
}

// ErrorPrefix marks the predicted class of a failed item
const ErrorPrefix = "ERROR: "

// ClassificationResult is one row of the checkpoint
type ClassificationResult struct {
	VideoID        int       `json:"video_id"`
	Filename       string    `json:"filename"`
	PredictedClass string    `json:"predicted_class"`
	Confidence     float64   `json:"confidence"`
	Scores         []float32 `json:"-"`
}

// Failed reports whether the result records a classification failure
func (r ClassificationResult) Failed() bool {
	return strings.HasPrefix(r.PredictedClass, ErrorPrefix)
}

// SuccessResult builds the checkpoint row for a classified item
func SuccessResult(item WorkItem, p Prediction, scores []float32) ClassificationResult {
	return ClassificationResult{
		VideoID:        item.VideoID,
		Filename:       item.Filename,
		PredictedClass: p.Label,
		Confidence:     p.Confidence,
		Scores:         scores,
	}
}

// FailureResult builds the checkpoint row for an item whose classification failed
func FailureResult(item WorkItem, err error) ClassificationResult {
	reason := "unknown error"
	if err != nil && err.Error() != "" {
		reason = strings.ToValidUTF8(err.Error(), "\uFFFD")
	}
	return ClassificationResult{
		VideoID:        item.VideoID,
		Filename:       item.Filename,
		PredictedClass: ErrorPrefix + reason,
		Confidence:     0.0,
	}
}

// SimilarVideo represents a nearest-neighbour match over stored score vectors
type SimilarVideo struct {
	VideoID        int
	Filename       string
	PredictedClass string
	Similarity     float64
}
