package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PredictionEvent describes one request's progress through the pipeline
type PredictionEvent struct {
	EventType      EventType     `json:"event_type"`
	Timestamp      time.Time     `json:"timestamp"`
	RequestID      string        `json:"request_id"`
	ProcessingTime time.Duration `json:"processing_time"`
	PersonCount    int           `json:"person_count"`
	Label          string        `json:"label,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// EventType represents the type of prediction event
type EventType string

const (
	// PredictionStarted when a request enters the pipeline
	PredictionStarted EventType = "prediction_started"
	// PredictionCompleted when classification succeeds
	PredictionCompleted EventType = "prediction_completed"
	// PredictionRejected when the person-count gate rejects the image
	PredictionRejected EventType = "prediction_rejected"
	// PredictionFailed when decode, loading, or inference fails
	PredictionFailed EventType = "prediction_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PredictionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PredictionEvent)
}

// LoggingObserver logs prediction events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles prediction events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"request_id":      event.RequestID,
		"processing_time": event.ProcessingTime,
	}

	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	switch event.EventType {
	case PredictionStarted:
		o.logger.WithFields(fields).Debug("Prediction started")
	case PredictionCompleted:
		fields["person_count"] = event.PersonCount
		fields["label"] = event.Label
		fields["confidence"] = event.Confidence
		o.logger.WithFields(fields).Info("Prediction completed")
	case PredictionRejected:
		fields["person_count"] = event.PersonCount
		o.logger.WithFields(fields).Info("Prediction rejected")
	case PredictionFailed:
		o.logger.WithFields(fields).Error("Prediction failed")
	default:
		o.logger.WithFields(fields).Info("Prediction event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// StatsObserver keeps in-process counters over prediction events. Counters
// only; nothing is persisted and no per-request data is retained.
type StatsObserver struct {
	mu                  sync.RWMutex
	totalPredictions    int64
	completed           int64
	rejected            int64
	failed              int64
	totalProcessingTime time.Duration
}

// NewStatsObserver creates a new stats observer
func NewStatsObserver() *StatsObserver {
	return &StatsObserver{}
}

// OnEvent handles prediction events by updating counters
func (o *StatsObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case PredictionStarted:
		o.totalPredictions++
	case PredictionCompleted:
		o.completed++
		o.totalProcessingTime += event.ProcessingTime
	case PredictionRejected:
		o.rejected++
	case PredictionFailed:
		o.failed++
	}
}

// GetObserverName returns the observer name
func (o *StatsObserver) GetObserverName() string {
	return "stats_observer"
}

// Snapshot returns current counters
func (o *StatsObserver) Snapshot() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.completed > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.completed)
	}

	return map[string]interface{}{
		"total_predictions":      o.totalPredictions,
		"completed":              o.completed,
		"rejected":               o.rejected,
		"failed":                 o.failed,
		"avg_processing_time_ms": avgProcessingTime.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// NotifyObservers notifies all observers of an event synchronously.
// Observers must be fast; counter updates and log writes qualify.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PredictionEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		observer.OnEvent(ctx, event)
	}
}
