package detector

import (
	"context"
	"image"
	"sort"

	"go-gender-classifier/internal/bundle"
	"go-gender-classifier/internal/inference"
)

// Config holds the tunable gating thresholds. Defaults match the filter
// criteria the service has always used for close-up person photos.
type Config struct {
	// ScoreThreshold is the minimum class probability for a detection to count
	ScoreThreshold float32
	// NMSIoU is the overlap ratio at which duplicate boxes are suppressed
	NMSIoU float32
	// MinRelativeArea drops boxes covering too little of the image
	MinRelativeArea float32
	// MinRelativeHeight drops boxes shorter than this fraction of the image
	MinRelativeHeight float32
}

// DefaultConfig returns documented gating defaults: score 0.70, NMS IoU 0.50,
// relative area > 0.05, relative height > 0.20.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:    0.70,
		NMSIoU:            0.50,
		MinRelativeArea:   0.05,
		MinRelativeHeight: 0.20,
	}
}

// Outcome reports how many distinct people the gate counted
type Outcome struct {
	PersonCount int
	Scores      []float32
}

// Gate runs the detection model and decides whether classification may
// proceed based on the person count. Derived fresh per request; never cached.
type Gate struct {
	cfg Config
}

// NewGate creates a gate with the given thresholds
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Count runs detection on img through the bundle's detector backend and
// counts distinct person instances above the configured thresholds.
func (g *Gate) Count(ctx context.Context, b *bundle.ModelBundle, img image.Image) (Outcome, error) {
	input := preprocessForDetection(img, b.DetectorCfg.InputWidth, b.DetectorCfg.InputHeight)

	detections, err := b.Detector.Detect(ctx, input)
	if err != nil {
		return Outcome{}, err
	}

	people := make([]inference.Detection, 0, len(detections))
	for _, d := range detections {
		if d.ClassID != b.DetectorCfg.PersonClassID {
			continue
		}
		if d.Score < g.cfg.ScoreThreshold {
			continue
		}
		// Boxes are normalized cxcywh, so relative size comes straight
		// from width and height.
		w, h := d.Box[2], d.Box[3]
		if w*h <= g.cfg.MinRelativeArea {
			continue
		}
		if h <= g.cfg.MinRelativeHeight {
			continue
		}
		people = append(people, d)
	}

	kept := suppress(people, g.cfg.NMSIoU)

	scores := make([]float32, len(kept))
	for i, d := range kept {
		scores[i] = d.Score
	}
	return Outcome{PersonCount: len(kept), Scores: scores}, nil
}

// suppress applies greedy non-maximum suppression: boxes are visited in
// descending score order and any box overlapping an already-kept box at
// IoU >= threshold is dropped.
func suppress(detections []inference.Detection, iouThreshold float32) []inference.Detection {
	if len(detections) <= 1 {
		return detections
	}

	sorted := make([]inference.Detection, len(detections))
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]inference.Detection, 0, len(sorted))
	for _, candidate := range sorted {
		overlaps := false
		for _, k := range kept {
			if iou(candidate.Box, k.Box) >= iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// iou computes intersection-over-union of two normalized cxcywh boxes
func iou(a, b [4]float32) float32 {
	ax1, ay1, ax2, ay2 := corners(a)
	bx1, by1, bx2, by2 := corners(b)

	ix1 := max32(ax1, bx1)
	iy1 := max32(ay1, by1)
	ix2 := min32(ax2, bx2)
	iy2 := min32(ay2, by2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	intersection := iw * ih
	union := (ax2-ax1)*(ay2-ay1) + (bx2-bx1)*(by2-by1) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func corners(box [4]float32) (x1, y1, x2, y2 float32) {
	cx, cy, w, h := box[0], box[1], box[2], box[3]
	return cx - w/2, cy - h/2, cx + w/2, cy + h/2
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
