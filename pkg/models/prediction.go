package models

// PredictionResponse is the wire shape for a single prediction. Rejections
// and failures keep HTTP 200 with Error populated and Prediction null; this
// is the documented API contract and is preserved for compatibility.
type PredictionResponse struct {
	Prediction    *string            `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	PersonCount   int                `json:"person_count"`
	Probabilities map[string]float64 `json:"probabilities"`
	Error         *string            `json:"error"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
}

// BatchItemResponse is one entry of a batch prediction, tagged with the
// uploaded file's name
type BatchItemResponse struct {
	Filename string `json:"filename"`
	PredictionResponse
}

// BatchPredictionResponse wraps per-file results in upload order
type BatchPredictionResponse struct {
	Results []BatchItemResponse `json:"results"`
}

// HealthResponse mirrors the readiness of each model bundle component.
// Status is "healthy" only when all three booleans are true.
type HealthResponse struct {
	Status          string `json:"status"`
	ModelLoaded     bool   `json:"model_loaded"`
	ProcessorLoaded bool   `json:"processor_loaded"`
	DetectorLoaded  bool   `json:"detector_loaded"`
}

// ErrorResponse represents a boundary validation error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
