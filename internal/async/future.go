package async

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous operation.
type Future[T any] struct {
	done   chan struct{}
	err    error
	once   sync.Once
	result T
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// SucceedFuture returns a Future already completed with the given result.
func SucceedFuture[T any](result T) *Future[T] {
	future := newFuture[T]()
	future.complete(result, nil)
	return future
}

// FailedFuture returns a Future already completed with the given error.
func FailedFuture[T any](err error) *Future[T] {
	future := newFuture[T]()
	var zero T
	future.complete(zero, err)
	return future
}

func (f *Future[T]) complete(result T, err error) {
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
	})
}

// Done returns a channel closed when the Future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the Future to complete and returns its result. If ctx
// is done first, Await returns the context error; the operation keeps
// running and you may call Await again.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
