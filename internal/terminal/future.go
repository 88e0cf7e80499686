package terminal

import (
	"context"
	"sync"

	"github.com/Fantasim/tappos/internal/config"
)

// Future is a one-shot result of an armed cycle. It resolves exactly once.
type Future[T any] struct {
	id   string
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any](id string) *Future[T] {
	return &Future[T]{id: id, done: make(chan struct{})}
}

// ID returns the cycle ID the future belongs to.
func (f *Future[T]) ID() string { return f.id }

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the resolved value without blocking. Before the future
// resolves it returns the zero value and ErrNotResolved.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		var zero T
		return zero, config.ErrNotResolved
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolve sets the outcome. Later calls are ignored and report false.
func (f *Future[T]) resolve(val T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}
