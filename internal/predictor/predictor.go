package predictor

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"go-gender-classifier/internal/bundle"
	"go-gender-classifier/internal/classifier"
	"go-gender-classifier/internal/detector"
	"go-gender-classifier/internal/inference"
	"go-gender-classifier/internal/observer"
)

type requestIDKey struct{}

// ContextWithRequestID attaches a request identifier for event reporting
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the attached request identifier, if any
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Predictor composes artifact loading, person gating, and classification
// into the single-image and batch prediction operations.
type Predictor struct {
	loader     *bundle.Loader
	pool       *inference.Pool
	gate       *detector.Gate
	classifier *classifier.Classifier
	events     observer.Subject
	now        func() time.Time
}

// New creates a predictor over the given loader and inference pool
func New(loader *bundle.Loader, pool *inference.Pool, gate *detector.Gate, cls *classifier.Classifier, events observer.Subject) *Predictor {
	return &Predictor{
		loader:     loader,
		pool:       pool,
		gate:       gate,
		classifier: cls,
		events:     events,
		now:        time.Now,
	}
}

// Predict evaluates one uploaded image from raw bytes. Every call
// re-evaluates from scratch; nothing about the image or its outcome is
// cached across requests.
func (p *Predictor) Predict(ctx context.Context, imageBytes []byte) Outcome {
	start := p.now()
	p.publish(ctx, observer.PredictionEvent{
		EventType: observer.PredictionStarted,
		Timestamp: start,
		RequestID: RequestIDFromContext(ctx),
	})

	outcome := p.predict(ctx, imageBytes)
	p.publishOutcome(ctx, outcome, p.now().Sub(start))
	return outcome
}

func (p *Predictor) predict(ctx context.Context, imageBytes []byte) Outcome {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return failure(FailureInvalidImage, "Invalid image format. Supported: JPEG, PNG")
	}

	b, err := p.loader.EnsureReady(ctx)
	if err != nil {
		return loadFailure(err)
	}

	release, err := p.pool.Acquire(ctx)
	if err != nil {
		return acquireFailure(err)
	}
	defer release()

	det, err := p.gate.Count(ctx, b, img)
	if err != nil {
		return inferenceFailure(err)
	}

	switch {
	case det.PersonCount == 0:
		return rejected(RejectNoPerson, 0)
	case det.PersonCount > 1:
		return rejected(RejectMultiplePeople, det.PersonCount)
	}

	// Cancellation checkpoint between the two forward passes; an
	// in-progress pass always runs to completion.
	if err := ctx.Err(); err != nil {
		return contextFailure(err)
	}

	cls, err := p.classifier.Classify(ctx, b, img)
	if err != nil {
		return inferenceFailure(err)
	}

	return success(cls.Label, cls.Confidence, cls.Probabilities, cls.LowConfidence, det.PersonCount)
}

// PredictBatch evaluates each image independently through Predict. A failure
// or rejection on one item never aborts its siblings; output order and
// length match the input.
func (p *Predictor) PredictBatch(ctx context.Context, items [][]byte) []Outcome {
	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		outcomes[i] = p.Predict(ctx, item)
	}
	return outcomes
}

// Health derives a snapshot from the loader state. Reading the state never
// triggers a load attempt.
func (p *Predictor) Health() HealthSnapshot {
	ready := p.loader.State() == bundle.StateReady
	return HealthSnapshot{
		ClassifierLoaded:   ready,
		PreprocessorLoaded: ready,
		DetectorLoaded:     ready,
	}
}

func (p *Predictor) publish(ctx context.Context, event observer.PredictionEvent) {
	if p.events != nil {
		p.events.NotifyObservers(ctx, event)
	}
}

func (p *Predictor) publishOutcome(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	event := observer.PredictionEvent{
		Timestamp:      p.now(),
		RequestID:      RequestIDFromContext(ctx),
		ProcessingTime: elapsed,
		PersonCount:    outcome.PersonCount,
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		event.EventType = observer.PredictionCompleted
		event.Label = outcome.Label
		event.Confidence = outcome.Confidence
	case OutcomeRejected:
		event.EventType = observer.PredictionRejected
		event.ErrorMessage = string(outcome.Reason)
	case OutcomeFailure:
		event.EventType = observer.PredictionFailed
		event.ErrorMessage = outcome.Message
	}

	p.publish(ctx, event)
}

func loadFailure(err error) Outcome {
	var loadErr *bundle.LoadError
	if errors.As(err, &loadErr) {
		return failure(FailureModelUnavailable, "Model is not available, try again later")
	}
	return contextFailure(err)
}

func acquireFailure(err error) Outcome {
	if errors.Is(err, inference.ErrBusy) {
		return failure(FailureBusy, "Server is busy, try again later")
	}
	return contextFailure(err)
}

func inferenceFailure(err error) Outcome {
	if err := contextCause(err); err != nil {
		return contextFailure(err)
	}
	return failure(FailureInference, "Prediction failed")
}

func contextFailure(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(FailureTimeout, "Request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return failure(FailureTimeout, "Request canceled")
	}
	return failure(FailureInference, "Prediction failed")
}

func contextCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
