package bundle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-gender-classifier/internal/artifact"
)

// blockingFetcher counts fetches and can hold them open until released
type blockingFetcher struct {
	fetches int32
	err     error
	started chan struct{} // receives one value per fetch entry
	release chan struct{} // fetch returns once closed
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (f *blockingFetcher) Fetch(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.fetches, 1)
	f.started <- struct{}{}
	<-f.release
	if f.err != nil {
		return "", f.err
	}
	return "/tmp/bundle", nil
}

// countingFetcher returns immediately
type countingFetcher struct {
	fetches int32
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.err != nil {
		return "", f.err
	}
	return "/tmp/bundle", nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func stubOpener(dir string) (*ModelBundle, error) {
	return &ModelBundle{Labels: []string{"male", "female"}, Dir: dir}, nil
}

func TestLoader_SingleFlight(t *testing.T) {
	fetcher := newBlockingFetcher()
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener))

	const callers = 8
	var wg sync.WaitGroup
	bundles := make([]*ModelBundle, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundles[i], errs[i] = loader.EnsureReady(context.Background())
		}(i)
	}

	// Wait for the winning caller to enter the fetch, then let it finish
	<-fetcher.started
	close(fetcher.release)
	wg.Wait()

	if got := atomic.LoadInt32(&fetcher.fetches); got != 1 {
		t.Fatalf("expected exactly one underlying fetch, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if bundles[i] != bundles[0] {
			t.Errorf("caller %d observed a different bundle instance", i)
		}
	}
	if loader.State() != StateReady {
		t.Errorf("expected state %s, got %s", StateReady, loader.State())
	}
}

func TestLoader_AllWaitersObserveSameFailure(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.err = &artifact.FetchError{Kind: artifact.ErrMissingFile, File: "classifier.onnx", Err: errors.New("not found")}
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener))

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = loader.EnsureReady(context.Background())
		}(i)
	}

	<-fetcher.started
	close(fetcher.release)
	wg.Wait()

	if got := atomic.LoadInt32(&fetcher.fetches); got != 1 {
		t.Fatalf("expected exactly one underlying fetch, got %d", got)
	}
	for i := 0; i < callers; i++ {
		var loadErr *LoadError
		if !errors.As(errs[i], &loadErr) {
			t.Fatalf("caller %d: expected LoadError, got %v", i, errs[i])
		}
		if loadErr.Kind != LoadErrArtifactUnavailable {
			t.Errorf("caller %d: expected kind %s, got %s", i, LoadErrArtifactUnavailable, loadErr.Kind)
		}
	}
}

func TestLoader_FailureBacksOffThenRetries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{err: &artifact.FetchError{Kind: artifact.ErrNetwork, File: "detector.onnx", Err: errors.New("timeout")}}
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener), WithClock(clock.Now))

	if _, err := loader.EnsureReady(context.Background()); err == nil {
		t.Fatal("expected load failure")
	}
	if loader.State() != StateFailed {
		t.Fatalf("expected state %s, got %s", StateFailed, loader.State())
	}

	// Inside the backoff window every call observes the recorded failure
	// without a new fetch
	if _, err := loader.EnsureReady(context.Background()); err == nil {
		t.Fatal("expected failure inside backoff window")
	}
	if got := atomic.LoadInt32(&fetcher.fetches); got != 1 {
		t.Fatalf("expected no retry inside backoff window, got %d fetches", got)
	}

	// Once the deadline passes the state reverts and the next call reloads
	clock.Advance(1500 * time.Millisecond)
	if loader.State() != StateNotLoaded {
		t.Fatalf("expected state %s after backoff, got %s", StateNotLoaded, loader.State())
	}

	fetcher.err = nil
	b, err := loader.EnsureReady(context.Background())
	if err != nil {
		t.Fatalf("expected reload to succeed: %v", err)
	}
	if b == nil || loader.State() != StateReady {
		t.Fatal("expected ready bundle after reload")
	}
	if got := atomic.LoadInt32(&fetcher.fetches); got != 2 {
		t.Fatalf("expected 2 fetches total, got %d", got)
	}
}

func TestLoader_BackoffDoublesUpToCap(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{err: &artifact.FetchError{Kind: artifact.ErrNetwork, File: "detector.onnx", Err: errors.New("down")}}
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener), WithClock(clock.Now))

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for _, want := range expected {
		_, err := loader.EnsureReady(context.Background())
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected LoadError, got %v", err)
		}
		if got := loadErr.RetryAfter.Sub(clock.Now()); got != want {
			t.Errorf("expected retry-after %s out, got %s", want, got)
		}
		clock.Advance(want + time.Millisecond)
	}
}

func TestLoader_StateNeverTriggersLoad(t *testing.T) {
	fetcher := &countingFetcher{}
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener))

	for i := 0; i < 3; i++ {
		if got := loader.State(); got != StateNotLoaded {
			t.Fatalf("expected state %s, got %s", StateNotLoaded, got)
		}
	}
	if got := atomic.LoadInt32(&fetcher.fetches); got != 0 {
		t.Errorf("State must not trigger a load, saw %d fetches", got)
	}
}

func TestLoader_WaiterCancellationLeavesLoadRunning(t *testing.T) {
	fetcher := newBlockingFetcher()
	loader := NewLoader(fetcher, "", time.Minute, WithOpener(stubOpener))

	winnerDone := make(chan error, 1)
	go func() {
		_, err := loader.EnsureReady(context.Background())
		winnerDone <- err
	}()
	<-fetcher.started

	// A waiter that gives up observes its own cancellation
	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := loader.EnsureReady(ctx)
		waiterDone <- err
	}()
	cancel()

	if err := <-waiterDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The shared load completes for the winner regardless
	close(fetcher.release)
	if err := <-winnerDone; err != nil {
		t.Fatalf("winner should succeed, got %v", err)
	}
	if loader.State() != StateReady {
		t.Errorf("expected state %s, got %s", StateReady, loader.State())
	}
}

func TestClassifyLoadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want LoadErrorKind
	}{
		{"fetch error", &artifact.FetchError{Kind: artifact.ErrMissingFile, File: "x", Err: errors.New("gone")}, LoadErrArtifactUnavailable},
		{"deadline", context.DeadlineExceeded, LoadErrTimeout},
		{"parse error", errors.New("failed to parse classifier_config.json"), LoadErrCorruptArtifact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyLoadError(tt.err).Kind; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
