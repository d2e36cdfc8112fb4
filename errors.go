package wstm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// errFailedValidation is the internal sentinel for a stale read set. It is
// always recovered by restarting the current attempt and never escapes
// Atomically.
var errFailedValidation = errors.New("wstm: read set no longer valid")

// ErrInAtomic is the panic value raised when Inconsistently is called while
// a transaction is already active on the calling goroutine, or when
// Var.GetInconsistent is handed a Txn with an active frame.
var ErrInAtomic = errors.New("wstm: operation not allowed inside an active transaction")

// ErrNotInTransaction is the panic value raised when a transactional method
// (Var.Get/Set/Validate, Txn.Retry and the hook registrars, transaction-local
// Get/Set) is called with a Txn that has no active frame, e.g. one produced
// by Inconsistently.
var ErrNotInTransaction = errors.New("wstm: operation requires an active transaction")

// ConflictLimitError is raised out of Atomically when the configured
// MaxConflicts budget is exhausted under ThrowOnMaxConflicts.
type ConflictLimitError struct {
	Conflicts int
}

func (e *ConflictLimitError) Error() string {
	return fmt.Sprintf("wstm: transaction aborted after %d conflicts", e.Conflicts)
}

// RetryLimitError is raised out of Atomically when the configured
// MaxRetries budget is exhausted.
type RetryLimitError struct {
	Retries int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("wstm: transaction aborted after %d retries", e.Retries)
}

// RetryTimeoutError is raised when a call to tx.Retry's wait exceeds its
// timeout (or the WithMaxRetryWait ceiling) without any read variable
// changing. This is a "soft failure": callers are expected to recover it.
type RetryTimeoutError struct {
	Waited time.Duration
}

func (e *RetryTimeoutError) Error() string {
	return fmt.Sprintf("wstm: retry timed out after %s", e.Waited)
}

// UserError wraps a panic value raised by a transaction body, recovered by
// Atomically, and re-raised to the caller with a stack trace attached so it
// survives the restart machinery without losing the original failure site.
type UserError struct {
	Cause any
	stack error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("wstm: transaction body panicked: %v", e.Cause)
}

// Unwrap lets errors.As/errors.Is reach through to an error-typed Cause.
func (e *UserError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

func wrapUserPanic(v any) *UserError {
	if ue, ok := v.(*UserError); ok {
		return ue
	}
	return &UserError{Cause: v, stack: errors.WithStack(fmt.Errorf("%v", v))}
}

// StackTrace exposes the pkg/errors-formatted stack captured at the point
// Atomically recovered the panic, for logging or diagnostics.
func (e *UserError) StackTrace() string {
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

// Deferred-result errors, declared here alongside the rest of the
// package's error taxonomy. Package future does not use these values: it
// declares and returns its own sentinels of the same names
// (future.ErrInvalidDeferredResult, future.ErrNotDone,
// future.ErrBrokenPromise), which are distinct from these for errors.Is.
var (
	// ErrInvalidDeferredResult names the failure of an operation on a
	// deferred result that was never bound to a producer.
	ErrInvalidDeferredResult = errors.New("wstm: deferred result is not bound to a producer")
	// ErrNotDone names the failure of a synchronous getter on a
	// still-pending deferred result.
	ErrNotDone = errors.New("wstm: deferred result is not done yet")
	// ErrBrokenPromise names the failure of a deferred result whose
	// producer side was released (or garbage collected) without a result.
	ErrBrokenPromise = errors.New("wstm: broken promise: producer released without a result")
)
