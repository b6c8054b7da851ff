package detector

import (
	"image"

	"github.com/nfnt/resize"
)

// preprocessForDetection resizes img to the detector's input dimensions and
// emits a CHW float32 tensor with pixels scaled to [0,1].
func preprocessForDetection(img image.Image, width, height int) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)

	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	input := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*w + x
			input[idx] = float32(r) / 65535.0
			input[plane+idx] = float32(g) / 65535.0
			input[2*plane+idx] = float32(b) / 65535.0
		}
	}

	return input
}
