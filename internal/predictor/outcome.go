package predictor

// OutcomeKind tags the variant of a PredictionOutcome
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeFailure  OutcomeKind = "failure"
)

// RejectReason is a user-correctable gate decision, not a system failure
type RejectReason string

const (
	RejectNoPerson       RejectReason = "no_person"
	RejectMultiplePeople RejectReason = "multiple_people"
)

// FailureKind categorizes system failures surfaced to the caller
type FailureKind string

const (
	FailureInvalidImage     FailureKind = "invalid_image"
	FailureModelUnavailable FailureKind = "model_unavailable"
	FailureInference        FailureKind = "inference_error"
	FailureBusy             FailureKind = "busy"
	FailureTimeout          FailureKind = "timeout"
)

// Outcome is the tagged result of one prediction. Exactly one of the three
// variants applies: Success carries label/confidence/probabilities, Rejected
// carries the reason and person count, Failure carries the kind and message.
// One instance per request; never persisted.
type Outcome struct {
	Kind OutcomeKind

	// Success fields
	Label         string
	Confidence    float64
	Probabilities map[string]float64
	LowConfidence bool

	// Shared with Rejected
	PersonCount int

	// Rejected fields
	Reason RejectReason

	// Failure fields
	Failure FailureKind
	Message string
}

func success(label string, confidence float64, probabilities map[string]float64, lowConfidence bool, personCount int) Outcome {
	return Outcome{
		Kind:          OutcomeSuccess,
		Label:         label,
		Confidence:    confidence,
		Probabilities: probabilities,
		LowConfidence: lowConfidence,
		PersonCount:   personCount,
	}
}

func rejected(reason RejectReason, personCount int) Outcome {
	return Outcome{
		Kind:        OutcomeRejected,
		Reason:      reason,
		PersonCount: personCount,
	}
}

func failure(kind FailureKind, message string) Outcome {
	return Outcome{
		Kind:    OutcomeFailure,
		Failure: kind,
		Message: message,
	}
}

// HealthSnapshot reflects the loader's current state, recomputed on demand
type HealthSnapshot struct {
	ClassifierLoaded   bool
	PreprocessorLoaded bool
	DetectorLoaded     bool
}

// Healthy reports whether every component of the bundle is loaded
func (h HealthSnapshot) Healthy() bool {
	return h.ClassifierLoaded && h.PreprocessorLoaded && h.DetectorLoaded
}
