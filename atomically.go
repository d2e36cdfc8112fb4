package wstm

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/tiancaiamao/wstm/profile"
)

// retrySignal is the unexported sentinel panicked by Txn.Retry. Keeping it
// unexported means user code cannot intercept it with a type-asserting
// recover the way it could a documented public error type.
type retrySignal struct {
	timeout time.Duration
}

// Atomically runs op as a transaction against the package-level default
// Runtime. It blocks until op either commits or fails permanently (max
// conflicts, max retries, a retry timeout, or op itself panicking).
func Atomically[R any](op func(*Txn) R, opts ...Option) R {
	return runTopLevel(defaultRuntime, op, opts)
}

// AtomicallyOn is Atomically against an explicit Runtime, for callers that
// want an arbiter isolated from the package-level default — primarily
// useful in tests that must not have their commit signal interleave with
// other tests' transactions.
func AtomicallyOn[R any](rt *Runtime, op func(*Txn) R, opts ...Option) R {
	return runTopLevel(rt, op, opts)
}

// Inconsistently runs op with a Txn that has no active frame: reads made
// through it (via Var.GetInconsistent) bypass the read map and validation
// entirely and carry no consistency guarantee between calls. Passing that
// Txn to a transactional method like Var.Get panics ErrNotInTransaction.
//
// Calling Inconsistently while the current goroutine already has a
// transaction in flight panics ErrInAtomic: an inconsistent read taken
// partway through an enclosing attempt could observe a value the enclosing
// transaction never validated against, so the combination is rejected
// outright rather than silently producing a torn view. Var.GetInconsistent
// additionally panics ErrInAtomic if handed a Txn with an active frame
// directly, which catches a leaked or misrouted Txn even when the call
// itself happens off the owning goroutine.
func Inconsistently[R any](op func(*Txn) R) R {
	if isTxnActive(goroutineID()) {
		panic(ErrInAtomic)
	}
	tx := &Txn{rt: defaultRuntime, frame: nil}
	return op(tx)
}

// AtomicallyNested runs op as a child transaction of parent. A child
// inherits everything parent has read or written so far (its Get/Set see
// parent's pending writes). On a normal return, the child's read set,
// write set, locals, and hooks are merged into parent's frame — nothing is
// validated or committed yet, only the root ever talks to the arbiter. A
// Retry inside op forwards the child's reads up to the root (so the root's
// eventual wait covers everything the child saw) and propagates the retry
// to the caller; any other panic discards the child's writes and
// newly-registered after/before-commit hooks, runs the child's OnFail
// hooks, and re-panics.
func AtomicallyNested[R any](parent *Txn, op func(*Txn) R) R {
	pf := parent.requireFrame()
	child := &Txn{rt: parent.rt, frame: newFrame(pf), pa: parent.pa}

	parent.pa.EnterChild()
	result, sig, userPanic, ok := runAttempt(child, op)
	parent.pa.ExitChild()

	if userPanic != nil {
		runOnFail(child.frame)
		panic(userPanic)
	}
	if sig != nil {
		runOnFail(child.frame)
		panic(*sig)
	}
	if !ok {
		panic(errFailedValidation) // unreachable: runAttempt always sets one of the above
	}
	child.frame.mergeIntoParent()
	return result
}

func runTopLevel[R any](rt *Runtime, op func(*Txn) R, opts []Option) R {
	cfg := buildOptions(opts)
	if cfg.file == "" {
		if _, file, line, ok := runtime.Caller(2); ok {
			cfg.file, cfg.line = file, line
		}
	}

	conflicts := 0
	retries := 0
	runLocked := false
	upgradeHeld := false

	for {
		if runLocked && !upgradeHeld {
			rt.arbiter.upgradeLock()
			upgradeHeld = true
		}

		f := newFrame(nil)
		pa := profile.Begin(cfg.file, cfg.line)
		tx := &Txn{rt: rt, frame: f, pa: pa}

		pa.StartAttempt()

		gid := goroutineID()
		incTxnActive(gid)
		result, sig, userPanic, ok := runAttempt(tx, op)
		decTxnActive(gid)

		if userPanic != nil {
			runOnFail(f)
			pa.End()
			if upgradeHeld {
				rt.arbiter.upgradeUnlock()
			}
			panic(wrapUserPanic(userPanic))
		}

		if sig != nil {
			retries++
			if cfg.maxRetries >= 0 && retries > cfg.maxRetries {
				runOnFail(f)
				pa.End()
				if upgradeHeld {
					rt.arbiter.upgradeUnlock()
				}
				panic(&RetryLimitError{Retries: retries})
			}
			runOnFail(f)
			wait := minWait(sig.timeout, cfg.maxRetryWait)
			rt.logger.Debug("wstm: transaction retrying", zap.Duration("wait", wait))
			if upgradeHeld {
				// RUN_LOCKED never reaches here in practice (holding the
				// upgrade lock makes every read stable), but release it
				// before parking so other goroutines can still commit and
				// eventually wake us.
				rt.arbiter.upgradeUnlock()
				upgradeHeld = false
			}
			woke := rt.arbiter.wait(wait)
			pa.End()
			if !woke {
				panic(&RetryTimeoutError{Waited: wait})
			}
			continue
		}

		if !ok {
			panic(errFailedValidation) // unreachable
		}

		committed, setIDs := commitFrame(rt, f, upgradeHeld)
		if upgradeHeld {
			rt.arbiter.upgradeUnlock()
			upgradeHeld = false
		}

		if !committed {
			conflicts++
			runOnFail(f)
			nameReads(pa, f)
			pa.Conflict(readIDs(f))
			pa.End()
			rt.logger.Debug("wstm: transaction conflict", zap.Int("conflicts", conflicts))
			if cfg.maxConflicts >= 0 && conflicts > cfg.maxConflicts {
				if cfg.conflictResolution == RunLockedOnMaxConflicts {
					runLocked = true
					continue
				}
				panic(&ConflictLimitError{Conflicts: conflicts})
			}
			continue
		}

		nameWrites(pa, f.writes)
		pa.Commit(setIDs)
		pa.End()
		rt.logger.Debug("wstm: transaction committed", zap.Int("writes", len(f.writes)))
		runAfter(f)
		return result
	}
}

// commitFrame validates and, if the frame has writes, publishes f's write
// set. alreadyUpgraded is true when the caller is running under the
// RUN_LOCKED escalation and has already taken the upgrade hold for the
// whole attempt.
func commitFrame(rt *Runtime, f *frame, alreadyUpgraded bool) (bool, []uintptr) {
	if len(f.writes) == 0 {
		rt.arbiter.rLock()
		ok := validateFrame(f)
		rt.arbiter.rUnlock()
		return ok, nil
	}

	if !alreadyUpgraded {
		rt.arbiter.upgradeLock()
		defer rt.arbiter.upgradeUnlock()
	}

	if !validateFrame(f) {
		return false, nil
	}

	rt.arbiter.writerLock()
	ids := writeIDs(f.writes)
	for v, val := range f.writes {
		v.publish(val)
	}
	rt.arbiter.writerUnlockAndBroadcast()
	return true, ids
}

// runAttempt runs op once (including, for a root frame, its before-commit
// hooks once it returns normally; a child frame's hooks are merged into its
// parent and run by the root) and classifies how it ended: a normal return
// (ok), Txn.Retry (sig), or any other panic (userPanic).
func runAttempt[R any](tx *Txn, op func(*Txn) R) (result R, sig *retrySignal, userPanic any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if rs, isRS := r.(retrySignal); isRS {
				tx.frame.mergeReadsUp()
				sig = &rs
				return
			}
			userPanic = r
		}
	}()
	result = op(tx)
	if tx.frame.parent == nil {
		runBeforeCommitHooks(tx, tx.frame)
	}
	ok = true
	return
}

// runBeforeCommitHooks iterates by index rather than over a snapshotted
// slice, so a hook that registers another BeforeCommit hook causes that
// new hook to run later in the same pass instead of being silently
// dropped.
func runBeforeCommitHooks(tx *Txn, f *frame) {
	for i := 0; i < len(f.beforeCommit); i++ {
		f.beforeCommit[i](tx)
	}
}

func runOnFail(f *frame) {
	for _, h := range f.onFail {
		h()
	}
}

func runAfter(f *frame) {
	for _, h := range f.afterHooks {
		h()
	}
}
