package inference

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initializes the process-wide ONNX runtime environment.
// Safe to call from multiple goroutines; only the first call does work.
func InitRuntime(sharedLibraryPath string) error {
	runtimeOnce.Do(func() {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return runtimeErr
}

// onnxClassifier wraps a fixed-shape session with preallocated tensors.
// The session's tensors are reused across calls, so runs are serialized
// with a mutex.
type onnxClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXClassifier creates a classifier session with input
// [1, 3, size, size] and output [1, numClasses].
func NewONNXClassifier(modelPath, inputName, outputName string, size, numClasses int) (ClassifierBackend, error) {
	inputShape := ort.NewShape(1, 3, int64(size), int64(size))
	outputShape := ort.NewShape(1, int64(numClasses))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create classifier session: %w", err)
	}

	return &onnxClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (c *onnxClassifier) Logits(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("classifier input size mismatch: expected %d values, got %d", len(data), len(input))
	}
	copy(data, input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("classifier inference failed: %w", err)
	}

	out := c.outputTensor.GetData()
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	return nil
}

// onnxDetector wraps a DETR-style detection session. The model emits
// per-query class logits [1, N, C] and normalized cxcywh boxes [1, N, 4];
// the last class index is the no-object class.
type onnxDetector struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputShape ort.Shape
}

// NewONNXDetector creates a detection session with input [1, 3, height, width]
func NewONNXDetector(modelPath, inputName string, outputNames []string, width, height int) (DetectorBackend, error) {
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}

	return &onnxDetector{
		session:    session,
		inputShape: ort.NewShape(1, 3, int64(height), int64(width)),
	}, nil
}

func (d *onnxDetector) Detect(ctx context.Context, input []float32) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	inputTensor, err := ort.NewTensor(d.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("detector inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected detector logits type %T", outputs[0])
	}
	boxesTensor, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected detector boxes type %T", outputs[1])
	}

	return parseDetections(
		logitsTensor.GetData(), logitsTensor.GetShape(),
		boxesTensor.GetData(), boxesTensor.GetShape(),
	)
}

func (d *onnxDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// parseDetections reduces per-query class logits to the best real class
// per query. Queries whose argmax is the no-object class are dropped.
func parseDetections(logits []float32, logitsShape []int64, boxes []float32, boxesShape []int64) ([]Detection, error) {
	if len(logitsShape) != 3 || len(boxesShape) != 3 || boxesShape[2] != 4 {
		return nil, fmt.Errorf("unexpected detector output shapes: logits=%v boxes=%v", logitsShape, boxesShape)
	}

	queries := int(logitsShape[1])
	classes := int(logitsShape[2])
	if int(boxesShape[1]) != queries {
		return nil, fmt.Errorf("detector output query count mismatch: %d vs %d", logitsShape[1], boxesShape[1])
	}
	if classes < 2 {
		return nil, fmt.Errorf("detector must emit at least 2 classes, got %d", classes)
	}
	if len(logits) < queries*classes || len(boxes) < queries*4 {
		return nil, fmt.Errorf("detector output data shorter than declared shape")
	}

	detections := make([]Detection, 0, queries)
	noObject := classes - 1

	for q := 0; q < queries; q++ {
		probs := softmax32(logits[q*classes : (q+1)*classes])

		best := 0
		for c := 1; c < classes; c++ {
			if probs[c] > probs[best] {
				best = c
			}
		}
		if best == noObject {
			continue
		}

		detections = append(detections, Detection{
			ClassID: best,
			Score:   probs[best],
			Box: [4]float32{
				boxes[q*4], boxes[q*4+1], boxes[q*4+2], boxes[q*4+3],
			},
		})
	}

	return detections, nil
}

func softmax32(logits []float32) []float32 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}

	probs := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		probs[i] = float32(e)
		sum += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}
