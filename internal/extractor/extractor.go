package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SampleFrames writes count evenly spaced JPEG stills of videoPath into
// <outputDir>/<video name>/ and returns their paths in playback order.
// Frames left over from an earlier run are reused only when that run sampled
// the same count; otherwise they are discarded and sampled again.
func SampleFrames(ctx context.Context, videoPath, outputDir string, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("frame count must be positive, got %d", count)
	}
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	frameDirPath := filepath.Join(outputDir, videoName)

	existing := listFrames(frameDirPath)
	if len(existing) == count {
		return existing, nil
	}
	for _, stale := range existing {
		if err := os.Remove(stale); err != nil {
			return nil, fmt.Errorf("failed to remove stale frame '%s': %w", stale, err)
		}
	}

	if err := os.MkdirAll(frameDirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory '%s': %w", frameDirPath, err)
	}

	duration, err := probeDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	frames := make([]string, 0, count)
	for i, ts := range frameTimestamps(duration, count) {
		framePath := filepath.Join(frameDirPath, fmt.Sprintf("frame_%04d.jpg", i+1))
		cmd := exec.CommandContext(ctx,
			"ffmpeg",
			"-y",
			"-loglevel", "error",
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "2",
			framePath,
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
		}
		frames = append(frames, framePath)
	}
	return frames, nil
}

// frameTimestamps spreads count sample points over [0, duration), one per
// equal-width segment starting at its left edge.
func frameTimestamps(duration float64, count int) []float64 {
	out := make([]float64, count)
	if duration <= 0 {
		return out
	}
	step := duration / float64(count)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}

func probeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for '%s': %w", videoPath, err)
	}
	return parseDuration(string(output))
}

func parseDuration(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("could not read video duration %q", raw)
	}
	return duration, nil
}

func listFrames(frameDirPath string) []string {
	files, err := os.ReadDir(frameDirPath)
	if err != nil {
		return nil
	}
	var frames []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			frames = append(frames, filepath.Join(frameDirPath, file.Name()))
		}
	}
	sort.Strings(frames)
	return frames
}
