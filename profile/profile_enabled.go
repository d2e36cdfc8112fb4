//go:build wstmprofile

package profile

import "time"

// Attempt captures the profiling frames for one top-level transaction
// attempt. Begin/End bracket it; Commit/Conflict are only recorded when
// depth is zero, i.e. for the outermost attempt — nested AtomicallyNested
// calls increment/decrement depth via EnterChild/ExitChild instead of
// emitting their own frames, since a nested transaction's reads and writes
// are already folded into the outermost attempt's by the time it commits.
type Attempt struct {
	w            *writer
	threadNameID uint64
	txnNameID    uint64
	fileID       uint64
	line         uint16
	start        time.Time
	depth        int
}

// Begin starts capturing a new attempt for the transaction declared at
// file:line. Safe to call even when no Var has ever been named.
func Begin(file string, line int) *Attempt {
	return &Attempt{
		w:      newWriter(),
		fileID: global.internName(file),
		line:   uint16(line),
	}
}

// NameThread records a display name for the goroutine driving this
// attempt, used as the Commit/Conflict frame's thread name key.
func (a *Attempt) NameThread(name string) { a.threadNameID = global.internName(name) }

// NameTransaction records a display name for the logical transaction,
// independent of its file:line call site.
func (a *Attempt) NameTransaction(name string) { a.txnNameID = global.internName(name) }

// NameVar emits a VarName frame binding varID (the variable's address,
// treated as an opaque identifier with no meaning beyond equality) to
// name.
func (a *Attempt) NameVar(varID uintptr, name string) {
	a.w.varName(uint64(varID), global.internName(name))
}

// EnterChild marks entry into a nested (AtomicallyNested) frame; while
// depth > 0, Commit and Conflict are no-ops.
func (a *Attempt) EnterChild() { a.depth++ }

// ExitChild marks return from a nested frame.
func (a *Attempt) ExitChild() { a.depth-- }

// StartAttempt records the start timestamp of one speculative run of the
// transaction body, used as the start time of the next Commit or Conflict
// frame. The runtime begins a fresh Attempt for every run, restarts
// included, and calls StartAttempt once on each.
func (a *Attempt) StartAttempt() { a.start = time.Now() }

// Commit records a Commit frame for the outermost attempt's write set.
func (a *Attempt) Commit(ids []uintptr) {
	if a.depth != 0 {
		return
	}
	a.record(KindCommit, ids)
}

// Conflict records a Conflict frame for the outermost attempt's read set.
func (a *Attempt) Conflict(ids []uintptr) {
	if a.depth != 0 {
		return
	}
	a.record(KindConflict, ids)
}

func (a *Attempt) record(kind FrameKind, rawIDs []uintptr) {
	ids := make([]uint64, len(rawIDs))
	for i, id := range rawIDs {
		ids[i] = uint64(id)
	}
	end := time.Now()
	a.w.commitOrConflict(kind, a.txnNameID, a.threadNameID, a.start.UnixNano(), end.UnixNano(), a.fileID, a.line, ids)
}

// End grafts this attempt's captured pages onto the global registry so a
// later call to Flush picks them up, then releases the Attempt. Safe to
// call on a *nil Attempt (Begin never returns nil in the enabled build,
// but End is still nil-safe for symmetry with the disabled build).
func (a *Attempt) End() {
	if a == nil || a.w == nil {
		return
	}
	global.appendPages(a.w.head, a.w.cur)
	a.w = nil
}
