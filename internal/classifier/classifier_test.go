package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bdougie/vidclassify/internal/inference"
	"github.com/bdougie/vidclassify/internal/labels"
	"github.com/bdougie/vidclassify/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testPolicy(rec *sleepRecorder) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = rec.sleep
	return p
}

func videoItem(t *testing.T) models.WorkItem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "12.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return models.WorkItem{VideoID: 12, Filename: "12.mp4", Path: path}
}

type scriptedZeroShot struct {
	calls   int
	results []func() ([]models.Candidate, error)
}

func (s *scriptedZeroShot) ZeroShot(ctx context.Context, media []byte, names []string) ([]models.Candidate, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func rateLimited() ([]models.Candidate, error) {
	return nil, &inference.TransientError{Kind: inference.RateLimited, Err: &inference.StatusError{StatusCode: 429}}
}

func networkDown() ([]models.Candidate, error) {
	return nil, &inference.TransientError{Kind: inference.Network, Err: errors.New("connection refused")}
}

func ranked(label string, score float64) func() ([]models.Candidate, error) {
	return func() ([]models.Candidate, error) {
		return []models.Candidate{{Label: label, Score: score}, {Label: "squat", Score: 0.01}}, nil
	}
}

func TestZeroShotSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){ranked("Playing Chess", 0.83)}}
	z := NewZeroShot(client, testPolicy(rec), time.Second, discard)

	pred, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "playing chess" || pred.Confidence != 0.83 || len(pred.Candidates) != 2 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if len(rec.waits) != 0 {
		t.Fatalf("unexpected sleeps %v", rec.waits)
	}
	if z.PaceInterval() != time.Second {
		t.Fatalf("pace = %v", z.PaceInterval())
	}
}

func TestZeroShotRateLimitBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){rateLimited}}
	z := NewZeroShot(client, testPolicy(rec), 0, discard)

	_, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonMaxRetries {
		t.Fatalf("expected max retries error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want 3", client.calls)
	}
	want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", rec.waits, want)
		}
	}
}

func TestZeroShotNetworkRetryThenSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){networkDown, ranked("jogging", 0.5)}}
	z := NewZeroShot(client, testPolicy(rec), 0, discard)

	pred, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "jogging" {
		t.Fatalf("label = %s", pred.Label)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 10*time.Second {
		t.Fatalf("waits = %v", rec.waits)
	}
}

func TestZeroShotNetworkOnLastAttemptFailsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){networkDown}}
	z := NewZeroShot(client, testPolicy(rec), 0, discard)

	_, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonRemote {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want 3", client.calls)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("waits = %v, want two fixed waits", rec.waits)
	}
}

func TestZeroShotPermanentErrorNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){
		func() ([]models.Candidate, error) { return nil, &inference.StatusError{StatusCode: 400, Body: "bad input"} },
	}}
	z := NewZeroShot(client, testPolicy(rec), 0, discard)

	_, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	var status *inference.StatusError
	if !errors.As(err, &status) {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
	if client.calls != 1 || len(rec.waits) != 0 {
		t.Fatalf("calls = %d waits = %v", client.calls, rec.waits)
	}
}

func TestZeroShotEmptyResult(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){
		func() ([]models.Candidate, error) { return nil, nil },
	}}
	z := NewZeroShot(client, testPolicy(rec), 0, discard)

	_, err := z.Classify(context.Background(), videoItem(t), labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonEmptyResult {
		t.Fatalf("expected empty result error, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d", client.calls)
	}
}

func TestZeroShotCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	client := &scriptedZeroShot{results: []func() ([]models.Candidate, error){rateLimited}}
	z := NewZeroShot(client, policy, 0, discard)

	_, err := z.Classify(ctx, videoItem(t), labels.Default())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var classErr *ClassificationError
	if errors.As(err, &classErr) {
		t.Fatal("cancellation should not be a classification error")
	}
}

func TestZeroShotMissingVideo(t *testing.T) {
	z := NewZeroShot(&scriptedZeroShot{}, DefaultRetryPolicy(), 0, discard)
	_, err := z.Classify(context.Background(), models.WorkItem{Filename: "1.mp4", Path: "/nonexistent/1.mp4"}, labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonReadVideo {
		t.Fatalf("expected read error, got %v", err)
	}
}

type scriptedEndpoint struct {
	calls    int
	payloads []any
	bodies   []string
	errs     []error
}

func (s *scriptedEndpoint) Post(ctx context.Context, payload any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	s.payloads = append(s.payloads, payload)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.bodies) {
		i = len(s.bodies) - 1
	}
	return json.RawMessage(s.bodies[i]), nil
}

func TestCustomEndpointPayloadAndSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedEndpoint{bodies: []string{`[{"label":"vault","score":0.64}]`}}
	c := NewCustomEndpoint(client, testPolicy(rec), discard)

	pred, err := c.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "vault" || pred.Confidence != 0.64 {
		t.Fatalf("unexpected prediction %+v", pred)
	}

	encoded, err := json.Marshal(client.payloads[0])
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Inputs     string `json:"inputs"`
		Parameters struct {
			CandidateLabels []string `json:"candidate_labels"`
			TopK            int      `json:"top_k"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(encoded, &body); err != nil {
		t.Fatal(err)
	}
	if body.Inputs != "ZmFrZSB2aWRlbw==" {
		t.Fatalf("inputs = %q", body.Inputs)
	}
	if body.Parameters.TopK != 1 || len(body.Parameters.CandidateLabels) != 60 {
		t.Fatalf("parameters = %+v", body.Parameters)
	}
}

func TestCustomEndpointMissingScoreIsZero(t *testing.T) {
	client := &scriptedEndpoint{bodies: []string{`[{"label":"lunge"}]`}}
	c := NewCustomEndpoint(client, testPolicy(&sleepRecorder{}), discard)
	pred, err := c.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "lunge" || pred.Confidence != 0 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestCustomEndpointRetriesEveryError(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedEndpoint{
		errs:   []error{&inference.StatusError{StatusCode: 500}, &inference.TransientError{Kind: inference.RateLimited, Err: errors.New("429")}},
		bodies: []string{"", "", `[{"label":"squat","score":0.9}]`},
	}
	c := NewCustomEndpoint(client, testPolicy(rec), discard)

	pred, err := c.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "squat" {
		t.Fatalf("label = %s", pred.Label)
	}
	if len(rec.waits) != 2 || rec.waits[0] != 10*time.Second || rec.waits[1] != 10*time.Second {
		t.Fatalf("waits = %v, want two fixed 10s waits", rec.waits)
	}
}

func TestCustomEndpointUnexpectedFormat(t *testing.T) {
	rec := &sleepRecorder{}
	client := &scriptedEndpoint{bodies: []string{`{"error":"model is loading"}`}}
	c := NewCustomEndpoint(client, testPolicy(rec), discard)

	_, err := c.Classify(context.Background(), videoItem(t), labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonUnexpectedFormat {
		t.Fatalf("expected unexpected format error, got %v", err)
	}
	if client.calls != 3 || len(rec.waits) != 2 {
		t.Fatalf("calls = %d waits = %v", client.calls, rec.waits)
	}
	if _, paced := any(c).(Paced); paced {
		t.Fatal("custom endpoint should not be paced")
	}
}

func TestCustomEndpointLongNonASCIIBodyKeepsValidUTF8(t *testing.T) {
	body := strings.Repeat("a", 199) + "é" + strings.Repeat("ü", 50)
	client := &scriptedEndpoint{bodies: []string{body}}
	c := NewCustomEndpoint(client, testPolicy(&sleepRecorder{}), discard)

	_, err := c.Classify(context.Background(), videoItem(t), labels.Default())
	if err == nil {
		t.Fatal("expected unexpected format error")
	}
	record := models.FailureResult(videoItem(t), err)
	if !utf8.ValidString(record.PredictedClass) {
		t.Fatalf("failure record is not valid UTF-8: %q", record.PredictedClass)
	}
	if !strings.HasSuffix(record.PredictedClass, strings.Repeat("a", 199)+"...") {
		t.Fatalf("expected cut before the split rune, got %q", record.PredictedClass)
	}
}

func TestSnippet(t *testing.T) {
	cases := map[string]string{
		"":                                      "<empty body>",
		"  short  ":                             "short",
		strings.Repeat("a", 199) + "é" + "tail": strings.Repeat("a", 199) + "...",
		"bad \xff byte":                         "bad \uFFFD byte",
	}
	for in, want := range cases {
		got := snippet(in)
		if got != want {
			t.Errorf("snippet(%q) = %q, want %q", in, got, want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("snippet(%q) is not valid UTF-8", in)
		}
	}
}

type scriptedVision struct {
	answers map[string]string
	calls   int
}

func (s *scriptedVision) Describe(ctx context.Context, prompt, imagePath string) (string, error) {
	s.calls++
	answer, ok := s.answers[filepath.Base(imagePath)]
	if !ok {
		return "", errors.New("model unavailable")
	}
	return answer, nil
}

func fixedFrames(names ...string) FrameSampler {
	return func(ctx context.Context, videoPath, outputDir string, count int) ([]string, error) {
		paths := make([]string, len(names))
		for i, n := range names {
			paths[i] = filepath.Join(outputDir, n)
		}
		return paths, nil
	}
}

func TestLocalVisionAggregatesVotes(t *testing.T) {
	model := &scriptedVision{answers: map[string]string{
		"f1.jpg": `{"label": "Jogging", "confidence": 0.6}`,
		"f2.jpg": "```json\n{\"label\": \"hurdling\", \"confidence\": 0.9}\n```",
		"f3.jpg": `Sure! {"label": "jogging", "confidence": 0.7}`,
		"f4.jpg": `{"label": "swimming", "confidence": 1}`,
	}}
	v := NewLocalVision(model, fixedFrames("f1.jpg", "f2.jpg", "f3.jpg", "f4.jpg"), t.TempDir(), 4, testPolicy(&sleepRecorder{}), discard)

	pred, err := v.Classify(context.Background(), videoItem(t), labels.Default())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "jogging" {
		t.Fatalf("label = %s", pred.Label)
	}
	if diff := pred.Confidence - 0.325; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("confidence = %v, want 0.325", pred.Confidence)
	}
	if len(pred.Candidates) != 2 || pred.Candidates[1].Label != "hurdling" {
		t.Fatalf("candidates = %+v", pred.Candidates)
	}
}

func TestLocalVisionNoUsableFrames(t *testing.T) {
	rec := &sleepRecorder{}
	model := &scriptedVision{answers: map[string]string{}}
	v := NewLocalVision(model, fixedFrames("a.jpg"), t.TempDir(), 1, testPolicy(rec), discard)

	_, err := v.Classify(context.Background(), videoItem(t), labels.Default())
	var classErr *ClassificationError
	if !errors.As(err, &classErr) || classErr.Reason != ReasonEmptyResult {
		t.Fatalf("expected empty result, got %v", err)
	}
	if model.calls != 3 || len(rec.waits) != 2 {
		t.Fatalf("calls = %d waits = %v", model.calls, rec.waits)
	}
}
