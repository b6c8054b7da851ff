package classifier

import (
	"context"
	"fmt"
	"image"
	"math"

	"go-gender-classifier/internal/bundle"
)

// Outcome is the probability distribution produced for a single-person image
type Outcome struct {
	Label         string
	Confidence    float64
	Probabilities map[string]float64
	// LowConfidence is a presentation advisory, not an error: the outcome
	// is still a success, the caller may want to render a hint.
	LowConfidence bool
}

// Classifier turns an accepted image into a two-class gender distribution
type Classifier struct {
	lowConfidenceThreshold float64
}

// New creates a classifier flagging outcomes below the given confidence
func New(lowConfidenceThreshold float64) *Classifier {
	return &Classifier{lowConfidenceThreshold: lowConfidenceThreshold}
}

// Classify preprocesses img per the bundle's preprocessing config, runs the
// classification backend, and softmaxes the logits into a distribution.
func (c *Classifier) Classify(ctx context.Context, b *bundle.ModelBundle, img image.Image) (Outcome, error) {
	input := Preprocess(img, b.Preprocess)

	logits, err := b.Classifier.Logits(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	if len(logits) != len(b.Labels) {
		return Outcome{}, fmt.Errorf("classifier emitted %d logits for %d labels", len(logits), len(b.Labels))
	}

	probs := softmax(logits)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	distribution := make(map[string]float64, len(b.Labels))
	for i, label := range b.Labels {
		distribution[label] = probs[i]
	}

	return Outcome{
		Label:         b.Labels[best],
		Confidence:    probs[best],
		Probabilities: distribution,
		LowConfidence: probs[best] < c.lowConfidenceThreshold,
	}, nil
}

// softmax converts logits to a distribution summing to 1. Computed in
// float64 with max subtraction for numeric stability.
func softmax(logits []float32) []float64 {
	max := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > max {
			max = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
