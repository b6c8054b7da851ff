package inference

import "context"

// Detection is one candidate object proposal from the detection model.
// Box coordinates are normalized center-x, center-y, width, height in [0,1].
type Detection struct {
	ClassID int
	Score   float32
	Box     [4]float32
}

// DetectorBackend runs the detection model over a preprocessed CHW tensor
// and returns the best-class proposal per query. Filtering, suppression,
// and counting are the caller's concern.
type DetectorBackend interface {
	Detect(ctx context.Context, input []float32) ([]Detection, error)
	Close() error
}

// ClassifierBackend runs the classification model over a preprocessed CHW
// tensor and returns raw logits, one per class.
type ClassifierBackend interface {
	Logits(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}
