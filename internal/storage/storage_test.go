package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/models"
)

func sampleResults() []models.ClassificationResult {
	return []models.ClassificationResult{
		{VideoID: 1, Filename: "1.mp4", PredictedClass: "jogging", Confidence: 0.875},
		{VideoID: 2, Filename: "2.mp4", PredictedClass: "ERROR: max retries exceeded, \"429\"", Confidence: 0},
		{VideoID: 10, Filename: "10.mp4", PredictedClass: "playing chess", Confidence: 1},
	}
}

func assertResults(t *testing.T, got, want []models.ClassificationResult) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.VideoID != w.VideoID || g.Filename != w.Filename || g.PredictedClass != w.PredictedClass || g.Confidence != w.Confidence {
			t.Fatalf("result %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestCSVStoreMissingFileLoadsEmpty(t *testing.T) {
	store, err := NewCSVStore(filepath.Join(t.TempDir(), "predictions.csv"))
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	defer store.Close()

	results, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestCSVStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "predictions.csv")
	store, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, sampleResults()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "video_id,filename,predicted_class,confidence" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "1,1.mp4,jogging,0.875" {
		t.Fatalf("row = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",0.0") || !strings.HasSuffix(lines[3], ",1.0") {
		t.Fatalf("whole confidences should keep a decimal point: %q %q", lines[2], lines[3])
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertResults(t, got, sampleResults())

	if err := store.Save(ctx, sampleResults()[:1]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("save should replace the checkpoint, got %d rows", len(got))
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "predictions.csv.tmp-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestCSVStoreLoadsExtraColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	content := "filename,video_id,confidence,predicted_class,note\n5.mp4,5,0.25,squat,x\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	defer store.Close()

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertResults(t, got, []models.ClassificationResult{{VideoID: 5, Filename: "5.mp4", PredictedClass: "squat", Confidence: 0.25}})
}

func TestCSVStoreRejectsMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	if err := os.WriteFile(path, []byte("video_id,filename\n1,1.mp4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	defer store.Close()
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestCSVStoreSingleWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	first, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}

	if _, err := NewCSVStore(path); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error for locked checkpoint, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("lock should be free after Close: %v", err)
	}
	second.Close()
}

func TestSQLiteStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	if got, err := store.Load(ctx); err != nil || len(got) != 0 {
		t.Fatalf("fresh store Load = %v, %v", got, err)
	}
	if err := store.Save(ctx, sampleResults()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	more := append(sampleResults(), models.ClassificationResult{VideoID: 11, Filename: "11.mp4", PredictedClass: "vault", Confidence: 0.5})
	if err := store.Save(ctx, more); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertResults(t, got, more)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	csvStore, err := Open(ctx, config.Checkpoint{Backend: config.BackendCSV, Path: filepath.Join(dir, "a.csv")}, 60, nil)
	if err != nil {
		t.Fatalf("Open csv: %v", err)
	}
	defer csvStore.Close()
	if csvStore.Name() != "csv" {
		t.Fatalf("name = %s", csvStore.Name())
	}

	sqliteStore, err := Open(ctx, config.Checkpoint{Backend: config.BackendSQLite, Path: filepath.Join(dir, "a.db")}, 60, nil)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer sqliteStore.Close()
	if sqliteStore.Name() != "sqlite" {
		t.Fatalf("name = %s", sqliteStore.Name())
	}

	if _, err := Open(ctx, config.Checkpoint{Backend: "parquet"}, 60, nil); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDedupe(t *testing.T) {
	in := []models.ClassificationResult{
		{VideoID: 1, Filename: "1.mp4", PredictedClass: "a"},
		{VideoID: 2, Filename: "2.mp4", PredictedClass: "b"},
		{VideoID: 1, Filename: "1.mp4", PredictedClass: "c"},
	}
	out, dropped := Dedupe(in)
	if len(out) != 2 || out[0].PredictedClass != "a" {
		t.Fatalf("unexpected dedupe result %+v", out)
	}
	if len(dropped) != 1 || dropped[0] != "1.mp4" {
		t.Fatalf("dropped = %v", dropped)
	}
	if in[2].PredictedClass != "c" {
		t.Fatal("Dedupe must not modify its input")
	}
}

func TestCSVStoreSaveFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	store, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	results := []models.ClassificationResult{{VideoID: 1, Filename: "1.mp4", PredictedClass: "squat", Confidence: 0.5}}

	if err := store.Save(ctx, results); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o644 {
		t.Fatalf("new checkpoint mode = %o, want 644", got)
	}

	if err := os.Chmod(path, 0o640); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, results); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o640 {
		t.Fatalf("rewritten checkpoint mode = %o, want existing 640", got)
	}
}
