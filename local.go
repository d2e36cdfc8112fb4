package wstm

import "sync/atomic"

// localKeys hands out the process-wide monotonic identity every
// TransactionLocalValue and TransactionLocalFlag needs: a 64-bit counter,
// never the Go value's address, since Go's GC is free to move or reuse
// memory out from under a stale pointer-derived key.
var localKeys uint64

func nextLocalKey() uint64 {
	return atomic.AddUint64(&localKeys, 1)
}

// TransactionLocalValue is a typed value scoped to the current
// transaction: visible to any nested child, and merged into the parent
// frame when the child commits. A value set in a child that later aborts
// is discarded.
type TransactionLocalValue[T any] struct {
	key uint64
}

// NewTransactionLocalValue allocates a fresh, globally unique local-value
// slot. Construct one per logical piece of transaction-scoped state and
// share the *TransactionLocalValue across goroutines/transactions the way
// a Var is shared.
func NewTransactionLocalValue[T any]() *TransactionLocalValue[T] {
	return &TransactionLocalValue[T]{key: nextLocalKey()}
}

// Get looks up l's value starting at tx's current frame and walking
// outward to the root, returning the first hit. ok is false if l was never
// Set in tx's frame or any ancestor.
func (l *TransactionLocalValue[T]) Get(tx *Txn) (value T, ok bool) {
	f := tx.requireFrame()
	raw, found := f.localGet(l.key)
	if !found {
		return value, false
	}
	return raw.(T), true
}

// Set stores val at tx's current frame only. It becomes visible to the
// parent frame only if and when this frame commits.
func (l *TransactionLocalValue[T]) Set(tx *Txn, val T) {
	f := tx.requireFrame()
	f.localSet(l.key, val)
}

// TransactionLocalFlag is a TransactionLocalValue[bool] specialized for
// "at most once per transaction" gating inside hooks.
type TransactionLocalFlag struct {
	v *TransactionLocalValue[bool]
}

// NewTransactionLocalFlag allocates a fresh flag.
func NewTransactionLocalFlag() *TransactionLocalFlag {
	return &TransactionLocalFlag{v: NewTransactionLocalValue[bool]()}
}

// TestAndSet returns whether the flag was already set in tx's frame or an
// ancestor, and sets it in tx's current frame as a side effect. A typical
// use is guarding a BeforeCommit hook so repeated calls in the same
// transaction only do their work once:
//
//	if !flag.TestAndSet(tx) {
//		tx.BeforeCommit(doItOnce)
//	}
func (f *TransactionLocalFlag) TestAndSet(tx *Txn) bool {
	was, _ := f.v.Get(tx)
	f.v.Set(tx, true)
	return was
}
