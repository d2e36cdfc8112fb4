// Package future implements deferred results: a single-producer,
// multi-consumer handle that starts pending and resolves
// exactly once, to either a value or an error, and that integrates with
// wstm's retry protocol so a transaction can block on "is this done yet"
// the same way it blocks on any Var read.
package future

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiancaiamao/wstm"
)

// ErrInvalidDeferredResult is returned by operations on a DeferredResult
// that was never bound to a producer.
var ErrInvalidDeferredResult = errors.New("wstm/future: deferred result is not bound to a producer")

// ErrNotDone is returned by GetResult on a still-pending deferred result.
var ErrNotDone = errors.New("wstm/future: deferred result is not done yet")

// ErrBrokenPromise is the failure installed into a DeferredResult when its
// DeferredValue is released, or garbage collected, while still pending.
var ErrBrokenPromise = errors.New("wstm/future: broken promise: producer released without a result")

type state[T any] struct {
	id string

	mu       sync.Mutex
	resolved bool
	failed   bool
	value    T
	err      error
	onDone   []func()

	readers  atomic.Int32 // count of live DeferredResult handles
	released bool

	isDone *wstm.Var[bool]
}

// DeferredValue is the producer side of a deferred result: exactly one of
// Done or Fail should be called, exactly once. It is not itself usable from
// inside a transaction; that's DeferredResult's job.
type DeferredValue[T any] struct {
	s *state[T]
}

// DeferredResult is the read-only, shareable consumer side of a
// DeferredValue, safe to pass to any number of goroutines and transactions.
// Each one returned by DeferredValue.Result is a distinct handle that counts
// toward HasReaders until it is dropped; share the pointer, don't copy the
// struct by value — a copy is not tracked as a handle of its own: it shares
// the original's reader token, so releasing either one gives up the claim
// for both.
type DeferredResult[T any] struct {
	s      *state[T]
	handle *readerHandle
}

// readerHandle is the per-DeferredResult token that lets Release and the GC
// cleanup agree on whether this particular handle has already given up its
// claim on readers, without either of them keeping the DeferredResult itself
// reachable (which would defeat the GC cleanup entirely).
type readerHandle struct {
	released atomic.Bool
}

func releaseReader[T any](s *state[T], h *readerHandle) {
	if h.released.CompareAndSwap(false, true) {
		s.readers.Add(-1)
	}
}

// NewDeferredValue allocates a pending deferred result. The returned value
// is the producer handle; call Result to hand consumers their read-only
// view. A DeferredValue left pending and dropped is caught by a best-effort
// runtime.AddCleanup backstop that fails it with ErrBrokenPromise, but
// callers should still call Release explicitly once they know they will
// never call Done or Fail — see DESIGN.md OQ-2.
func NewDeferredValue[T any]() *DeferredValue[T] {
	s := &state[T]{
		id:     uuid.NewString(),
		isDone: wstm.NewVar(false),
	}
	d := &DeferredValue[T]{s: s}
	runtime.AddCleanup(d, func(s *state[T]) {
		s.mu.Lock()
		alreadyResolved := s.resolved
		s.mu.Unlock()
		if !alreadyResolved {
			resolve(s, *new(T), ErrBrokenPromise, true)
		}
	}, s)
	return d
}

// Done resolves the deferred result successfully with val. Calling Done or
// Fail more than once, or after Release, panics.
func (d *DeferredValue[T]) Done(val T) {
	resolve(d.s, val, nil, false)
}

// Fail resolves the deferred result with an error.
func (d *DeferredValue[T]) Fail(err error) {
	resolve(d.s, *new(T), err, false)
}

// HasReaders reports whether at least one DeferredResult handle derived from
// this value is still live: created by Result and not yet Released or
// garbage collected. Producers can use this to skip expensive work nobody is
// (or is no longer) waiting for; unlike a monotonic "ever read" flag, this
// goes back to false once every outstanding handle is gone.
func (d *DeferredValue[T]) HasReaders() bool {
	return d.s.readers.Load() > 0
}

// Release marks the producer side as done with this deferred value without
// providing a result. If still pending, consumers see ErrBrokenPromise; if
// already resolved, Release is a no-op.
func (d *DeferredValue[T]) Release() {
	d.s.mu.Lock()
	if d.s.released {
		d.s.mu.Unlock()
		return
	}
	d.s.released = true
	alreadyResolved := d.s.resolved
	d.s.mu.Unlock()
	if !alreadyResolved {
		resolve(d.s, *new(T), ErrBrokenPromise, true)
	}
}

// Result returns a fresh shareable consumer handle for this deferred value.
// Calling Result again returns another, independently-tracked handle; each
// one must be Released (or dropped and collected) on its own for HasReaders
// to report false.
func (d *DeferredValue[T]) Result() *DeferredResult[T] {
	return newDeferredResult(d.s)
}

type cleanupArg[T any] struct {
	s *state[T]
	h *readerHandle
}

func newDeferredResult[T any](s *state[T]) *DeferredResult[T] {
	s.readers.Add(1)
	h := &readerHandle{}
	r := &DeferredResult[T]{s: s, handle: h}
	runtime.AddCleanup(r, func(a cleanupArg[T]) {
		releaseReader(a.s, a.h)
	}, cleanupArg[T]{s: s, h: h})
	return r
}

// Release drops this handle's claim on HasReaders immediately, instead of
// waiting for the garbage collector to notice the handle is unreachable.
// Safe to call more than once, and safe to call on a handle that is about to
// be collected anyway.
func (r *DeferredResult[T]) Release() {
	if r.s == nil {
		return
	}
	releaseReader(r.s, r.handle)
}

func resolve[T any](s *state[T], val T, err error, broken bool) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		if !broken {
			panic("wstm/future: DeferredValue resolved more than once")
		}
		return
	}
	s.resolved = true
	s.value = val
	s.err = err
	s.failed = err != nil
	hooks := s.onDone
	s.onDone = nil
	s.mu.Unlock()

	wstm.Atomically(func(tx *wstm.Txn) any {
		s.isDone.Set(tx, true)
		return nil
	})

	for _, h := range hooks {
		h()
	}
}

// IsDone reports whether the result has resolved, successfully or not. It
// is safe to call with or without an active transaction; outside one it
// samples the current state with no consistency guarantee across calls.
func (r *DeferredResult[T]) IsDone() bool {
	r.requireBound()
	return r.s.isDone.GetReadOnly()
}

// Failed reports whether the result resolved to an error. Panics via
// ErrNotDone-style behavior is avoided: Failed on a pending result is
// simply false.
func (r *DeferredResult[T]) Failed() bool {
	r.requireBound()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.failed
}

// Wait blocks the calling goroutine (outside of any transaction) until the
// result resolves or timeout elapses (timeout <= 0 waits forever). Returns
// false on timeout.
func (r *DeferredResult[T]) Wait(timeout time.Duration) bool {
	r.requireBound()
	if r.s.isDone.GetReadOnly() {
		return true
	}

	done := make(chan struct{})
	var once sync.Once
	r.OnDone(func() { once.Do(func() { close(done) }) })

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetResult returns the resolved value and error. err is ErrNotDone if the
// result has not resolved yet.
func (r *DeferredResult[T]) GetResult() (T, error) {
	r.requireBound()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.resolved {
		var zero T
		return zero, ErrNotDone
	}
	return r.s.value, r.s.err
}

// ThrowError returns the resolved error, or nil if the result succeeded or
// is still pending.
func (r *DeferredResult[T]) ThrowError() error {
	r.requireBound()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.err
}

// OnDone registers f to run once the result resolves, synchronously on
// whichever goroutine calls Done/Fail/Release (or the cleanup goroutine, for
// a broken promise). If the result has already resolved, f runs immediately
// on the calling goroutine instead.
func (r *DeferredResult[T]) OnDone(f func()) {
	r.requireBound()
	r.s.mu.Lock()
	if r.s.resolved {
		r.s.mu.Unlock()
		f()
		return
	}
	r.s.onDone = append(r.s.onDone, f)
	r.s.mu.Unlock()
}

// RetryIfNotDone parks tx (via Retry) until this result resolves, if it
// hasn't already. Call from inside an Atomically body exactly the way you
// would call tx.Retry after reading a Var.
func (r *DeferredResult[T]) RetryIfNotDone(tx *wstm.Txn, timeout time.Duration) {
	r.requireBound()
	if r.s.isDone.Get(tx) {
		return
	}
	tx.Retry(timeout)
}

// requireBound guards every exported DeferredResult method against the
// zero value: a DeferredResult{} never produced by DeferredValue.Result has
// no backing state to read.
func (r *DeferredResult[T]) requireBound() {
	if r.s == nil {
		panic(ErrInvalidDeferredResult)
	}
}
