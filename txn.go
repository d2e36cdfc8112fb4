package wstm

import (
	"time"

	"github.com/tiancaiamao/wstm/profile"
)

// Txn is the handle a transaction body uses to read and write Vars,
// register hooks, and abandon the attempt with Retry. A Txn is only valid
// for the duration of the Atomically/AtomicallyNested/Inconsistently call
// that created it; do not retain one past the call that produced it.
type Txn struct {
	rt    *Runtime
	frame *frame
	pa    *profile.Attempt // shared with every frame of the same top-level attempt
}

// requireFrame panics ErrNotInTransaction if tx has no active frame, which
// is the case for a Txn handed out by Inconsistently.
func (tx *Txn) requireFrame() *frame {
	if tx == nil || tx.frame == nil {
		panic(ErrNotInTransaction)
	}
	return tx.frame
}

// Retry abandons the current attempt and blocks the outermost Atomically
// call on the arbiter's commit signal until a variable in the aggregated
// read set changes, or timeout elapses (timeout <= 0 waits forever). It
// never returns: control resumes, if at all, at the top of Atomically's
// loop with a fresh attempt. Retry must not be called from inside a
// recover(); the signal it panics with is unexported specifically so user
// code cannot intercept it by type.
func (tx *Txn) Retry(timeout time.Duration) {
	tx.requireFrame()
	panic(retrySignal{timeout: timeout})
}

// BeforeCommit registers f to run, under this still-active transaction,
// immediately before the top-level commit. f may set variables or register
// further hooks (including further BeforeCommit calls, which run later in
// the same pass rather than being dropped).
func (tx *Txn) BeforeCommit(f func(*Txn)) {
	fr := tx.requireFrame()
	fr.beforeCommit = append(fr.beforeCommit, f)
}

// After registers f to run once this transaction's top-level commit has
// published all of its writes. f runs with no transaction active on the
// calling goroutine.
func (tx *Txn) After(f func()) {
	fr := tx.requireFrame()
	fr.afterHooks = append(fr.afterHooks, f)
}

// OnFail registers f to run if this frame is abandoned: on a conflict, a
// Retry, or an exception. f takes no Txn, matching the "transaction pushed
// aside" contract — f is free to start a brand new top-level transaction
// with Atomically, since there is no ambient, half-dead one for it to
// collide with.
func (tx *Txn) OnFail(f func()) {
	fr := tx.requireFrame()
	fr.onFail = append(fr.onFail, f)
}

func validateFrame(f *frame) bool {
	for fr := f; fr != nil; fr = fr.parent {
		for v, e := range fr.reads {
			if !v.validateVersion(e.version) {
				return false
			}
		}
	}
	return true
}
