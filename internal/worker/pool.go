// Package worker runs CPU-bound tasks on a fixed number of slots so that a
// burst of requests queues instead of oversubscribing the machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"qrhub/internal/logging"
)

// ErrTaskPanicked is returned by Submit when the task panicked.
var ErrTaskPanicked = errors.New("task panicked")

// Pool bounds how many tasks run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	log  logging.Logger
}

// New returns a pool with size slots. A size below one is treated as one.
func New(size int, log logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
		log:  log,
	}
}

// Size reports the number of slots.
func (p *Pool) Size() int {
	return p.size
}

type result[T any] struct {
	val T
	err error
}

// Submit waits for a free slot and runs fn on it. When timeout is positive it
// bounds both the wait and the run. If the deadline passes while fn is still
// running, Submit returns the context error at once and the slot is held
// until fn actually returns.
func Submit[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error(ctx, "worker task panicked", "panic", fmt.Sprint(r))
				done <- result[T]{err: fmt.Errorf("%w: %v", ErrTaskPanicked, r)}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
