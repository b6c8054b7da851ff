package classifier

import (
	"image"

	"github.com/nfnt/resize"

	"go-gender-classifier/internal/bundle"
)

// Preprocess resizes img to the configured square size and normalizes each
// channel with `(pixel*rescale - mean) / std`, CHW layout. The configuration
// comes from the model bundle so it stays consistent with what the
// classifier was trained on.
func Preprocess(img image.Image, cfg bundle.PreprocessConfig) []float32 {
	size := uint(cfg.Size)
	resized := resize.Resize(size, size, img, resize.Lanczos3)

	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	input := make([]float32, 3*plane)

	// 16-bit color values scaled back to 0..255 before rescale so the
	// rescale factor means the same thing it does at training time
	scale := cfg.RescaleFactor * (255.0 / 65535.0)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*w + x
			input[idx] = (float32(r)*scale - cfg.ImageMean[0]) / cfg.ImageStd[0]
			input[plane+idx] = (float32(g)*scale - cfg.ImageMean[1]) / cfg.ImageStd[1]
			input[2*plane+idx] = (float32(b)*scale - cfg.ImageMean[2]) / cfg.ImageStd[2]
		}
	}

	return input
}
