// Package wstm provides Software Transactional Memory for Go. This is an
// alternative to the standard way of writing concurrent code (channels and
// mutexes): STM lets you perform arbitrarily complex operations against
// shared state atomically, and the runtime re-runs a transaction whenever a
// concurrent commit invalidates what it read.
//
// Create a Var to hold the data you want to access concurrently:
//
//	x := wstm.NewVar(3)
//
// Then use Atomically to read and/or write it:
//
//	wstm.Atomically(func(tx *wstm.Txn) any {
//		cur := x.Get(tx)
//		x.Set(tx, cur-1)
//		return nil
//	})
//
// At any point during a transaction you can call tx.Retry, which abandons
// the attempt and blocks the call to Atomically until one of the variables
// read so far changes, at which point the transaction runs again. This
// code decrements x but blocks as long as x is already zero:
//
//	wstm.Atomically(func(tx *wstm.Txn) any {
//		cur := x.Get(tx)
//		if cur == 0 {
//			tx.Retry(0)
//		}
//		x.Set(tx, cur-1)
//		return nil
//	})
//
// A transaction's body must not have side effects visible outside of Vars:
// it may run more than once before it commits. Build up a list of actions
// and perform them with tx.After if you need to run something exactly once,
// after the commit is durable.
//
// wstm serializes commits through a single reader/upgrade/writer arbiter
// rather than per-variable locks (see package arbiter.go): this keeps the
// validation and publish steps trivially consistent at the cost of treating
// every committing transaction as mutually exclusive with every other one.
// That tradeoff is deliberate: a lock-free, per-variable commit path is a
// different project with a much larger correctness surface.
package wstm
