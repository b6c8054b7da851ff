package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go-gender-classifier/internal/inference"
)

// ClassifierConfig describes the classification model head
type ClassifierConfig struct {
	ID2Label   map[string]string `json:"id2label"`
	InputName  string            `json:"input_name"`
	OutputName string            `json:"output_name"`
}

// PreprocessConfig describes how uploaded pixels must be transformed before
// classification. It is shipped with the model so serving-time preprocessing
// matches training-time preprocessing exactly.
type PreprocessConfig struct {
	Size          int       `json:"size"`
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	RescaleFactor float32   `json:"rescale_factor"`
}

// DetectorConfig describes the detection model's input and class layout
type DetectorConfig struct {
	InputWidth    int      `json:"input_width"`
	InputHeight   int      `json:"input_height"`
	PersonClassID int      `json:"person_class_id"`
	InputName     string   `json:"input_name"`
	OutputNames   []string `json:"output_names"`
}

// ModelBundle is the loaded classifier, its preprocessing configuration, and
// the person detector, treated as one unit. Immutable and safe for shared
// reads once constructed.
type ModelBundle struct {
	Classifier  inference.ClassifierBackend
	Detector    inference.DetectorBackend
	Labels      []string
	Preprocess  PreprocessConfig
	DetectorCfg DetectorConfig
	Dir         string
}

// Close releases both model sessions
func (b *ModelBundle) Close() {
	if b.Classifier != nil {
		b.Classifier.Close()
	}
	if b.Detector != nil {
		b.Detector.Close()
	}
}

// Open deserializes a complete artifact directory into a ready ModelBundle
func Open(dir, onnxLibraryPath string) (*ModelBundle, error) {
	var clsCfg ClassifierConfig
	if err := readJSON(filepath.Join(dir, "classifier_config.json"), &clsCfg); err != nil {
		return nil, err
	}
	var preCfg PreprocessConfig
	if err := readJSON(filepath.Join(dir, "preprocessor_config.json"), &preCfg); err != nil {
		return nil, err
	}
	var detCfg DetectorConfig
	if err := readJSON(filepath.Join(dir, "detector_config.json"), &detCfg); err != nil {
		return nil, err
	}
	applyDefaults(&clsCfg, &preCfg, &detCfg)

	labels, err := orderedLabels(clsCfg.ID2Label)
	if err != nil {
		return nil, err
	}
	if err := validatePreprocess(preCfg); err != nil {
		return nil, err
	}
	if detCfg.InputWidth <= 0 || detCfg.InputHeight <= 0 {
		return nil, fmt.Errorf("detector_config.json: input dimensions must be positive (got %dx%d)",
			detCfg.InputWidth, detCfg.InputHeight)
	}
	if detCfg.PersonClassID < 0 {
		return nil, fmt.Errorf("detector_config.json: person_class_id must be >= 0 (got %d)", detCfg.PersonClassID)
	}

	if err := inference.InitRuntime(onnxLibraryPath); err != nil {
		return nil, err
	}

	classifier, err := inference.NewONNXClassifier(
		filepath.Join(dir, "classifier.onnx"),
		clsCfg.InputName, clsCfg.OutputName,
		preCfg.Size, len(labels),
	)
	if err != nil {
		return nil, err
	}

	detector, err := inference.NewONNXDetector(
		filepath.Join(dir, "detector.onnx"),
		detCfg.InputName, detCfg.OutputNames,
		detCfg.InputWidth, detCfg.InputHeight,
	)
	if err != nil {
		classifier.Close()
		return nil, err
	}

	return &ModelBundle{
		Classifier:  classifier,
		Detector:    detector,
		Labels:      labels,
		Preprocess:  preCfg,
		DetectorCfg: detCfg,
		Dir:         dir,
	}, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func applyDefaults(cls *ClassifierConfig, pre *PreprocessConfig, det *DetectorConfig) {
	if cls.InputName == "" {
		cls.InputName = "pixel_values"
	}
	if cls.OutputName == "" {
		cls.OutputName = "logits"
	}
	if pre.RescaleFactor == 0 {
		pre.RescaleFactor = 1.0 / 255.0
	}
	if det.InputName == "" {
		det.InputName = "pixel_values"
	}
	if len(det.OutputNames) == 0 {
		det.OutputNames = []string{"logits", "pred_boxes"}
	}
}

// orderedLabels converts an id2label map into an index-ordered slice.
// The classifier head is two-class; anything else is a corrupt bundle.
func orderedLabels(id2label map[string]string) ([]string, error) {
	if len(id2label) != 2 {
		return nil, fmt.Errorf("classifier_config.json: expected 2 labels, got %d", len(id2label))
	}
	labels := make([]string, len(id2label))
	for id, label := range id2label {
		idx, err := strconv.Atoi(id)
		if err != nil || idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("classifier_config.json: invalid label index %q", id)
		}
		labels[idx] = label
	}
	for i, label := range labels {
		if label == "" {
			return nil, fmt.Errorf("classifier_config.json: missing label for index %d", i)
		}
	}
	return labels, nil
}

func validatePreprocess(cfg PreprocessConfig) error {
	if cfg.Size <= 0 {
		return fmt.Errorf("preprocessor_config.json: size must be positive (got %d)", cfg.Size)
	}
	if len(cfg.ImageMean) != 3 || len(cfg.ImageStd) != 3 {
		return fmt.Errorf("preprocessor_config.json: image_mean and image_std must have 3 channels")
	}
	for _, std := range cfg.ImageStd {
		if std == 0 {
			return fmt.Errorf("preprocessor_config.json: image_std must be non-zero")
		}
	}
	return nil
}
