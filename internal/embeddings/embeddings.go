package embeddings

import (
	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/models"
)

// ScoreVector lays a ranking out as a dense vector with one slot per label,
// in label-set order. Labels missing from the ranking score zero and
// candidates outside the set are ignored. It returns nil when the ranking
// has no usable entries, so results without a ranking store no vector.
func ScoreVector(set labels.Set, ranking []models.Candidate) []float32 {
	if set.Len() == 0 || len(ranking) == 0 {
		return nil
	}
	vec := make([]float32, set.Len())
	matched := false
	for _, c := range ranking {
		i, ok := set.Index(c.Label)
		if !ok {
			continue
		}
		// keep the first score for a label; rankings are best-first
		if vec[i] == 0 {
			vec[i] = float32(c.Score)
		}
		matched = true
	}
	if !matched {
		return nil
	}
	return vec
}
