// Package corpus enumerates the videos of a batch in a deterministic order.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/models"
)

// Enumerate lists the eligible files directly inside dir, sorted by filename.
// Each file stem must be a non-negative integer; it becomes the video id.
// A missing directory, a directory with no eligible files or a stem that is
// not an integer is a configuration error.
func Enumerate(dir string, extensions []string) ([]models.WorkItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read corpus directory '%s': %w", config.ErrConfiguration, dir, err)
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if allowed[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no video files (%s) found in '%s'", config.ErrConfiguration, strings.Join(extensions, ", "), dir)
	}
	sort.Strings(names)

	items := make([]models.WorkItem, 0, len(names))
	for _, name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		id, err := strconv.Atoi(stem)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: video filename '%s' does not have an integer stem", config.ErrConfiguration, name)
		}
		items = append(items, models.WorkItem{
			VideoID:  id,
			Filename: name,
			Path:     filepath.Join(dir, name),
		})
	}
	return items, nil
}

// Slice applies a 1-based inclusive range over items. end <= 0 means through
// the last item. Bounds past the end are clamped.
func Slice(items []models.WorkItem, start, end int) []models.WorkItem {
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(items) {
		end = len(items)
	}
	if start > end {
		return nil
	}
	return items[start-1 : end]
}
