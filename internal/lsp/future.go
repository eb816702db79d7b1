package lsp

import (
	"context"
	"sync"
)

// Future is the pending result of a dispatched request.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
	cancel context.CancelFunc
}

func newFuture[T any](cancel context.CancelFunc) *Future[T] {
	if cancel == nil {
		cancel = func() {}
	}
	return &Future[T]{done: make(chan struct{}), cancel: cancel}
}

// resolvedFuture returns a future that is already complete.
func resolvedFuture[T any](value T, err error) *Future[T] {
	f := newFuture[T](nil)
	f.resolve(value, err)
	return f
}

// resolve settles the future. Only the first call has an effect.
func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends. A future only resolves
// with an error when its dispatch was cancelled or its request was nil;
// per-backend failures never surface here.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops every outstanding backend task. The future resolves with
// context.Canceled unless it had already resolved.
func (f *Future[T]) Cancel() {
	f.cancel()
}
