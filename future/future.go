// Package future provides a one-shot completion handle.
//
// A Future starts pending and is resolved exactly once, either with a value
// or with an error. Observers can block on it (Wait, Done) or attach
// callbacks. Callbacks attached before resolution run on the goroutine that
// resolves the future; callbacks attached afterwards run immediately on the
// caller's goroutine with the stored outcome.
package future

import (
	"context"
	"errors"
	"sync"
)

// State is the resolution state of a Future.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

var (
	// ErrPending is returned by Value while the future is unresolved.
	ErrPending = errors.New("future: not resolved")
	// ErrNilFailure replaces a nil error passed to Fail.
	ErrNilFailure = errors.New("future: failed without a reason")
)

// Future is a one-shot result of type T.
type Future[T any] struct {
	mu        sync.Mutex
	state     State
	value     T
	err       error
	done      chan struct{}
	callbacks []func(T, error)
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that already succeeded with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future that already failed with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Resolve completes the future successfully. It returns false, and changes
// nothing, if the future was already resolved.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Fail completes the future with err. It returns false, and changes nothing,
// if the future was already resolved.
func (f *Future[T]) Fail(err error) bool {
	if err == nil {
		err = ErrNilFailure
	}
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return false
	}
	f.value, f.err = v, err
	if err != nil {
		f.state = Failed
	} else {
		f.state = Succeeded
	}
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// OnComplete registers fn to run once the future resolves.
func (f *Future[T]) OnComplete(fn func(T, error)) *Future[T] {
	f.mu.Lock()
	if f.state == Pending {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return f
	}
	v, err := f.value, f.err
	f.mu.Unlock()

	fn(v, err)
	return f
}

// OnSuccess registers fn to run if the future succeeds.
func (f *Future[T]) OnSuccess(fn func(T)) *Future[T] {
	return f.OnComplete(func(v T, err error) {
		if err == nil {
			fn(v)
		}
	})
}

// OnFailure registers fn to run if the future fails.
func (f *Future[T]) OnFailure(fn func(error)) *Future[T] {
	return f.OnComplete(func(_ T, err error) {
		if err != nil {
			fn(err)
		}
	})
}

// Done returns a channel that is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State reports the current state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Value returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Value() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Pending {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Wait blocks until the future resolves or ctx is done. A ctx error does not
// resolve the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Value()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map returns a future resolved with fn applied to the value of f. Failures
// of f, and errors returned by fn, fail the returned future.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			out.Fail(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Resolve(u)
	})
	return out
}
