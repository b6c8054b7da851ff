package inference

import (
	"context"
	"errors"
)

// ErrBusy signals that the pool's wait queue is full and the request was
// rejected immediately rather than queued unboundedly.
var ErrBusy = errors.New("inference pool saturated")

// Pool bounds how many inference invocations run against the model bundle
// at once. A model instance is not assumed safe for unrestricted concurrent
// execution, so every detection/classification pass must hold a slot.
//
// Admission is two-stage: a request first takes a queue token (non-blocking;
// failure means backpressure) and then waits for an execution slot. Waiting
// suspends on the slot channel, never busy-polls, and honors cancellation.
type Pool struct {
	slots  chan struct{}
	tokens chan struct{}
}

// NewPool creates a pool with the given number of concurrent execution
// slots and wait-queue depth beyond them.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Pool{
		slots:  make(chan struct{}, workers),
		tokens: make(chan struct{}, workers+queueDepth),
	}
}

// Acquire reserves an execution slot, blocking while the wait queue has
// room. Returns ErrBusy immediately when the queue is full. The returned
// release function must be called exactly once.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.tokens <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	select {
	case p.slots <- struct{}{}:
		return func() {
			<-p.slots
			<-p.tokens
		}, nil
	case <-ctx.Done():
		<-p.tokens
		return nil, ctx.Err()
	}
}
