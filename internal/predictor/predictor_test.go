package predictor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"go-gender-classifier/internal/bundle"
	"go-gender-classifier/internal/classifier"
	"go-gender-classifier/internal/detector"
	"go-gender-classifier/internal/inference"
	"go-gender-classifier/internal/observer"
)

type stubFetcher struct {
	err error
}

func (s *stubFetcher) Fetch(_ context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "/tmp/bundle", nil
}

type stubDetector struct {
	detections []inference.Detection
	err        error
}

func (s *stubDetector) Detect(_ context.Context, _ []float32) ([]inference.Detection, error) {
	return s.detections, s.err
}

func (s *stubDetector) Close() error { return nil }

type stubClassifier struct {
	logits []float32
	err    error
}

func (s *stubClassifier) Logits(_ context.Context, _ []float32) ([]float32, error) {
	return s.logits, s.err
}

func (s *stubClassifier) Close() error { return nil }

func person(score float32) inference.Detection {
	return inference.Detection{ClassID: 1, Score: score, Box: [4]float32{0.5, 0.5, 0.4, 0.8}}
}

func people(scores ...float32) []inference.Detection {
	detections := make([]inference.Detection, len(scores))
	for i, s := range scores {
		detections[i] = inference.Detection{
			ClassID: 1,
			Score:   s,
			Box:     [4]float32{float32(i) * 0.3, 0.5, 0.25, 0.8},
		}
	}
	return detections
}

func testBundle(det *stubDetector, cls *stubClassifier) *bundle.ModelBundle {
	return &bundle.ModelBundle{
		Classifier: cls,
		Detector:   det,
		Labels:     []string{"female", "male"},
		Preprocess: bundle.PreprocessConfig{
			Size:          8,
			ImageMean:     []float32{0.5, 0.5, 0.5},
			ImageStd:      []float32{0.5, 0.5, 0.5},
			RescaleFactor: 1.0 / 255.0,
		},
		DetectorCfg: bundle.DetectorConfig{
			InputWidth:    16,
			InputHeight:   16,
			PersonClassID: 1,
		},
	}
}

type predictorOptions struct {
	fetcher *stubFetcher
	pool    *inference.Pool
	events  observer.Subject
}

func newTestPredictor(t *testing.T, b *bundle.ModelBundle, opts predictorOptions) *Predictor {
	t.Helper()

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = &stubFetcher{}
	}
	loader := bundle.NewLoader(fetcher, "", time.Minute,
		bundle.WithOpener(func(string) (*bundle.ModelBundle, error) {
			if b == nil {
				return nil, errors.New("corrupt bundle")
			}
			return b, nil
		}))

	pool := opts.pool
	if pool == nil {
		pool = inference.NewPool(1, 4)
	}

	return New(loader, pool, detector.NewGate(detector.DefaultConfig()), classifier.New(0.6), opts.events)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestPredict_Success(t *testing.T) {
	b := testBundle(
		&stubDetector{detections: []inference.Detection{person(0.95)}},
		&stubClassifier{logits: []float32{-2, 2}},
	)
	p := newTestPredictor(t, b, predictorOptions{})

	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", outcome.Kind, outcome.Message)
	}
	if outcome.Label != "male" {
		t.Errorf("expected label male, got %q", outcome.Label)
	}
	if outcome.PersonCount != 1 {
		t.Errorf("expected person count 1, got %d", outcome.PersonCount)
	}
	if outcome.Confidence <= 0.9 {
		t.Errorf("expected dominant confidence, got %f", outcome.Confidence)
	}
	if len(outcome.Probabilities) != 2 {
		t.Errorf("expected 2 probabilities, got %d", len(outcome.Probabilities))
	}
}

func TestPredict_InvalidImage(t *testing.T) {
	b := testBundle(&stubDetector{}, &stubClassifier{})
	p := newTestPredictor(t, b, predictorOptions{})

	outcome := p.Predict(context.Background(), []byte("not an image"))

	if outcome.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", outcome.Kind)
	}
	if outcome.Failure != FailureInvalidImage {
		t.Errorf("expected invalid_image, got %s", outcome.Failure)
	}
}

func TestPredict_NoPerson(t *testing.T) {
	b := testBundle(&stubDetector{}, &stubClassifier{logits: []float32{0, 0}})
	p := newTestPredictor(t, b, predictorOptions{})

	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejection, got %s", outcome.Kind)
	}
	if outcome.Reason != RejectNoPerson {
		t.Errorf("expected no_person, got %s", outcome.Reason)
	}
	if outcome.PersonCount != 0 {
		t.Errorf("expected person count 0, got %d", outcome.PersonCount)
	}
}

func TestPredict_MultiplePeople(t *testing.T) {
	b := testBundle(&stubDetector{detections: people(0.9, 0.85, 0.8)}, &stubClassifier{logits: []float32{0, 0}})
	p := newTestPredictor(t, b, predictorOptions{})

	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejection, got %s", outcome.Kind)
	}
	if outcome.Reason != RejectMultiplePeople {
		t.Errorf("expected multiple_people, got %s", outcome.Reason)
	}
	if outcome.PersonCount != 3 {
		t.Errorf("expected person count 3, got %d", outcome.PersonCount)
	}
}

func TestPredict_ModelUnavailable(t *testing.T) {
	p := newTestPredictor(t, nil, predictorOptions{
		fetcher: &stubFetcher{err: errors.New("storage down")},
	})

	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", outcome.Kind)
	}
	if outcome.Failure != FailureModelUnavailable {
		t.Errorf("expected model_unavailable, got %s", outcome.Failure)
	}
}

func TestPredict_Busy(t *testing.T) {
	b := testBundle(&stubDetector{detections: []inference.Detection{person(0.95)}}, &stubClassifier{logits: []float32{0, 1}})

	pool := inference.NewPool(1, 0)
	release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("failed to saturate pool: %v", err)
	}
	defer release()

	p := newTestPredictor(t, b, predictorOptions{pool: pool})
	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", outcome.Kind)
	}
	if outcome.Failure != FailureBusy {
		t.Errorf("expected busy, got %s", outcome.Failure)
	}
}

func TestPredict_DetectorError(t *testing.T) {
	b := testBundle(&stubDetector{err: errors.New("session crashed")}, &stubClassifier{logits: []float32{0, 0}})
	p := newTestPredictor(t, b, predictorOptions{})

	outcome := p.Predict(context.Background(), pngBytes(t))

	if outcome.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", outcome.Kind)
	}
	if outcome.Failure != FailureInference {
		t.Errorf("expected inference_error, got %s", outcome.Failure)
	}
}

func TestPredictBatch_IndependentItems(t *testing.T) {
	b := testBundle(
		&stubDetector{detections: []inference.Detection{person(0.95)}},
		&stubClassifier{logits: []float32{-2, 2}},
	)
	p := newTestPredictor(t, b, predictorOptions{})

	valid := pngBytes(t)
	outcomes := p.PredictBatch(context.Background(), [][]byte{valid, []byte("garbage"), valid})

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Kind != OutcomeSuccess {
		t.Errorf("item 0: expected success, got %s", outcomes[0].Kind)
	}
	if outcomes[1].Kind != OutcomeFailure || outcomes[1].Failure != FailureInvalidImage {
		t.Errorf("item 1: expected invalid_image failure, got %s/%s", outcomes[1].Kind, outcomes[1].Failure)
	}
	if outcomes[2].Kind != OutcomeSuccess {
		t.Errorf("item 2: expected success, got %s", outcomes[2].Kind)
	}
}

func TestHealth_NeverTriggersLoad(t *testing.T) {
	fetcher := &stubFetcher{}
	b := testBundle(&stubDetector{}, &stubClassifier{})
	p := newTestPredictor(t, b, predictorOptions{fetcher: fetcher})

	snapshot := p.Health()
	if snapshot.Healthy() {
		t.Error("expected unhealthy snapshot before any load")
	}
	if snapshot.ClassifierLoaded || snapshot.PreprocessorLoaded || snapshot.DetectorLoaded {
		t.Error("no component should report loaded before any load")
	}
}

func TestHealth_ReadyAfterLoad(t *testing.T) {
	b := testBundle(&stubDetector{detections: []inference.Detection{person(0.95)}}, &stubClassifier{logits: []float32{0, 1}})
	p := newTestPredictor(t, b, predictorOptions{})

	if outcome := p.Predict(context.Background(), pngBytes(t)); outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", outcome.Kind, outcome.Message)
	}

	snapshot := p.Health()
	if !snapshot.Healthy() {
		t.Error("expected healthy snapshot after successful load")
	}
}

func TestPredict_PublishesEvents(t *testing.T) {
	b := testBundle(
		&stubDetector{detections: []inference.Detection{person(0.95)}},
		&stubClassifier{logits: []float32{-2, 2}},
	)

	events := observer.NewEventPublisher()
	stats := observer.NewStatsObserver()
	events.Subscribe(stats)

	p := newTestPredictor(t, b, predictorOptions{events: events})
	ctx := ContextWithRequestID(context.Background(), "req-1")

	p.Predict(ctx, pngBytes(t))
	p.Predict(ctx, []byte("garbage"))

	snapshot := stats.Snapshot()
	if got := snapshot["total_predictions"]; got != int64(2) {
		t.Errorf("expected 2 total predictions, got %v", got)
	}
	if got := snapshot["completed"]; got != int64(1) {
		t.Errorf("expected 1 completed prediction, got %v", got)
	}
	if got := snapshot["failed"]; got != int64(1) {
		t.Errorf("expected 1 failed prediction, got %v", got)
	}
}
