package bundle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"go-gender-classifier/internal/artifact"
	"go-gender-classifier/internal/logger"
)

// LoadState tracks the lifecycle of the process-wide model bundle
type LoadState string

const (
	StateNotLoaded LoadState = "not_loaded"
	StateLoading   LoadState = "loading"
	StateReady     LoadState = "ready"
	StateFailed    LoadState = "failed"
)

// LoadErrorKind categorizes why the bundle could not be made ready
type LoadErrorKind string

const (
	LoadErrArtifactUnavailable LoadErrorKind = "artifact_unavailable"
	LoadErrCorruptArtifact     LoadErrorKind = "corrupt_artifact"
	LoadErrTimeout             LoadErrorKind = "timeout"
)

// LoadError is recorded on the loader for health reporting and returned to
// every caller that observed the failed attempt.
type LoadError struct {
	Kind       LoadErrorKind
	RetryAfter time.Time
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model load failed (%s): %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Fetcher places the complete artifact set locally and returns its directory
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Loader owns the process's single ModelBundle and its load state machine:
//
//	NotLoaded -> Loading -> Ready
//	             Loading -> Failed(retry-after)
//	Failed reverts to NotLoaded once the backoff deadline passes.
//
// Concurrent EnsureReady calls collapse into one fetch-and-deserialize: the
// first caller to observe NotLoaded wins the transition to Loading under the
// mutex and performs the work; everyone else suspends on the in-flight
// attempt's done channel and resumes with the same result.
type Loader struct {
	fetcher Fetcher
	opener  func(dir string) (*ModelBundle, error)
	timeout time.Duration
	now     func() time.Time

	mu         sync.Mutex
	state      LoadState
	bundle     *ModelBundle
	lastErr    *LoadError
	backoff    time.Duration
	retryAfter time.Time
	inflight   chan struct{}
}

// Option customizes loader construction
type Option func(*Loader)

// WithClock replaces the loader's time source
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithOpener replaces bundle deserialization
func WithOpener(opener func(dir string) (*ModelBundle, error)) Option {
	return func(l *Loader) { l.opener = opener }
}

// NewLoader creates a loader in the NotLoaded state. Nothing is fetched
// until the first EnsureReady call.
func NewLoader(fetcher Fetcher, onnxLibraryPath string, timeout time.Duration, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		opener: func(dir string) (*ModelBundle, error) {
			return Open(dir, onnxLibraryPath)
		},
		timeout: timeout,
		now:     time.Now,
		state:   StateNotLoaded,
		backoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State reports the current load state without triggering a load attempt
func (l *Loader) State() LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectiveStateLocked()
}

// effectiveStateLocked folds an expired failure back into NotLoaded so
// health reads and new attempts agree on what the state means right now.
func (l *Loader) effectiveStateLocked() LoadState {
	if l.state == StateFailed && !l.now().Before(l.retryAfter) {
		return StateNotLoaded
	}
	return l.state
}

// EnsureReady returns the ready bundle, loading it first if necessary.
// Safe for arbitrary concurrent callers; at most one underlying fetch runs
// at a time. A waiting caller's ctx cancellation abandons the wait without
// aborting the shared load.
func (l *Loader) EnsureReady(ctx context.Context) (*ModelBundle, error) {
	for {
		l.mu.Lock()
		switch l.effectiveStateLocked() {
		case StateReady:
			b := l.bundle
			l.mu.Unlock()
			return b, nil

		case StateFailed:
			err := l.lastErr
			l.mu.Unlock()
			return nil, err

		case StateLoading:
			done := l.inflight
			l.mu.Unlock()
			select {
			case <-done:
				// Re-read the terminal state on the next pass
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case StateNotLoaded:
			done := make(chan struct{})
			l.state = StateLoading
			l.inflight = done
			l.mu.Unlock()
			return l.load(done)
		}
	}
}

// load runs the fetch-and-deserialize attempt and publishes its result.
// It uses a detached context so a disconnecting winner does not fail the
// waiters sharing the attempt.
func (l *Loader) load(done chan struct{}) (*ModelBundle, error) {
	start := l.now()
	logger.WithComponent("loader").Info("loading model bundle")

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	b, err := l.attempt(ctx)

	l.mu.Lock()
	defer func() {
		close(done)
		l.mu.Unlock()
	}()
	l.inflight = nil

	if err != nil {
		loadErr := classifyLoadError(err)
		loadErr.RetryAfter = l.now().Add(l.backoff)
		l.state = StateFailed
		l.lastErr = loadErr
		l.retryAfter = loadErr.RetryAfter
		if next := l.backoff * 2; next <= maxBackoff {
			l.backoff = next
		} else {
			l.backoff = maxBackoff
		}

		logger.WithComponent("loader").WithError(err).WithFields(logrus.Fields{
			"kind":        string(loadErr.Kind),
			"retry_after": loadErr.RetryAfter.Format(time.RFC3339),
		}).Error("model load failed")
		return nil, loadErr
	}

	l.state = StateReady
	l.bundle = b
	l.lastErr = nil
	l.backoff = initialBackoff

	logger.WithComponent("loader").WithFields(logrus.Fields{
		"labels":      b.Labels,
		"duration_ms": l.now().Sub(start).Milliseconds(),
	}).Info("model bundle ready")
	return b, nil
}

func (l *Loader) attempt(ctx context.Context) (*ModelBundle, error) {
	dir, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return l.opener(dir)
}

// Close releases the loaded bundle, if any. Intended for process shutdown.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bundle != nil {
		l.bundle.Close()
		l.bundle = nil
		l.state = StateNotLoaded
	}
}

func classifyLoadError(err error) *LoadError {
	var fetchErr *artifact.FetchError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &LoadError{Kind: LoadErrTimeout, Err: err}
	case errors.As(err, &fetchErr):
		return &LoadError{Kind: LoadErrArtifactUnavailable, Err: err}
	default:
		return &LoadError{Kind: LoadErrCorruptArtifact, Err: err}
	}
}
