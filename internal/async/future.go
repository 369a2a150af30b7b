// Copyright © 2024 The zs-debug-adapter authors

package async

import (
	"context"
	"sync"
)

// Future is the eventual result of a task submitted to an Executor.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	val       T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(v, err)
	return f
}

// complete settles the future. Only the first call has an effect. Callbacks
// run on the calling goroutine.
func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.val, f.err = v, err
		cbs := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()
		for _, cb := range cbs {
			cb(v, err)
		}
	})
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run exactly once with the result. When the
// future is still pending fn runs on the goroutine that completes it, which
// for executor tasks is the executor's worker, before the next task starts.
// When the future is already complete fn runs immediately.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		v, err := f.val, f.err
		f.mu.Unlock()
		fn(v, err)
	default:
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
	}
}
