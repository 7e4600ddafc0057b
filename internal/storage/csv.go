package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/bdougie/vidclassify/internal/models"
)

var csvHeader = []string{"video_id", "filename", "predicted_class", "confidence"}

// CSVStore keeps the checkpoint in a CSV file with a fixed header.
type CSVStore struct {
	path string
	lock *flock.Flock
}

// NewCSVStore locks the checkpoint at path for this process.
func NewCSVStore(path string) (*CSVStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	lock, err := lockCheckpoint(path)
	if err != nil {
		return nil, err
	}
	return &CSVStore{path: path, lock: lock}, nil
}

func (s *CSVStore) Name() string { return "csv" }

// Path returns the checkpoint file location.
func (s *CSVStore) Path() string { return s.path }

// Load reads every row of the checkpoint. Columns are matched by header name
// so files with extra columns still load.
func (s *CSVStore) Load(ctx context.Context) ([]models.ClassificationResult, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range csvHeader {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("checkpoint %s is missing column %q", s.path, name)
		}
	}

	var results []models.ClassificationResult
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint line %d: %w", line, err)
		}
		id, err := strconv.Atoi(strings.TrimSpace(record[cols["video_id"]]))
		if err != nil {
			return nil, fmt.Errorf("checkpoint line %d: invalid video_id: %w", line, err)
		}
		confidence, err := strconv.ParseFloat(strings.TrimSpace(record[cols["confidence"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("checkpoint line %d: invalid confidence: %w", line, err)
		}
		results = append(results, models.ClassificationResult{
			VideoID:        id,
			Filename:       record[cols["filename"]],
			PredictedClass: record[cols["predicted_class"]],
			Confidence:     confidence,
		})
	}
	return results, nil
}

// Save writes results to a temporary file beside the checkpoint and renames
// it into place, so readers only ever see a complete file.
func (s *CSVStore) Save(ctx context.Context, results []models.ClassificationResult) error {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint header: %w", err)
	}
	for _, r := range results {
		row := []string{
			strconv.Itoa(r.VideoID),
			r.Filename,
			r.PredictedClass,
			formatConfidence(r.Confidence),
		}
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write checkpoint row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	if err := tmp.Chmod(checkpointMode(s.path)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set checkpoint permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Close releases the checkpoint lock.
func (s *CSVStore) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// checkpointMode keeps the permissions of an existing checkpoint. New files
// are world readable.
func checkpointMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// formatConfidence keeps a decimal point on whole numbers ("0.0", "1.0").
func formatConfidence(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
