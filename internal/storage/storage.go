// Package storage persists the checkpoint: the full, ordered list of results
// produced so far. Every Save replaces the whole persisted state.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/models"
)

// Store defines the checkpoint surface used by the batch runner
type Store interface {
	// Load returns every persisted result in order, or none if no checkpoint exists
	Load(ctx context.Context) ([]models.ClassificationResult, error)

	// Save atomically replaces the persisted state with results
	Save(ctx context.Context, results []models.ClassificationResult) error

	// Name identifies the backend in logs and metrics
	Name() string

	Close() error
}

// Open connects the backend selected in cfg. dims is the length of the
// label set, used to size score vectors.
func Open(ctx context.Context, cfg config.Checkpoint, dims int, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendCSV, "":
		return NewCSVStore(cfg.Path)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.DSN, dims, logger)
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint backend %q", config.ErrConfiguration, cfg.Backend)
	}
}

// Dedupe keeps the first result for each filename. It returns the filtered
// list and the filenames that were dropped.
func Dedupe(results []models.ClassificationResult) ([]models.ClassificationResult, []string) {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	var dropped []string
	for _, r := range results {
		if seen[r.Filename] {
			dropped = append(dropped, r.Filename)
			continue
		}
		seen[r.Filename] = true
		out = append(out, r)
	}
	return out, dropped
}
