package wstm

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// goroutineID extracts the calling goroutine's runtime-assigned id from the
// standard "goroutine N [state]:" header runtime.Stack always writes first.
// Go exposes no supported API for this; it exists solely to key the
// active-transaction set Inconsistently consults, since nothing else in
// this package needs a goroutine identity.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	sp := bytes.IndexByte(b, ' ')
	if sp < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:sp]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// activeTxnGoroutines maps a goroutine id to a count of transaction
// attempts currently running on it (root attempts only; AtomicallyNested
// runs inline inside the root's count and does not touch this map). A
// counter rather than a bare set handles a goroutine that starts a fresh
// top-level Atomically from inside a still-running attempt (its body or a
// BeforeCommit hook): the inner attempt's decrement must not clear the
// outer attempt's entry. OnFail and After hooks run after the attempt's
// own decrement, so they see no active attempt.
var activeTxnGoroutines sync.Map // int64 -> *int32

func incTxnActive(gid int64) {
	v, _ := activeTxnGoroutines.LoadOrStore(gid, new(int32))
	atomic.AddInt32(v.(*int32), 1)
}

func decTxnActive(gid int64) {
	v, ok := activeTxnGoroutines.Load(gid)
	if !ok {
		return
	}
	counter := v.(*int32)
	if atomic.AddInt32(counter, -1) <= 0 {
		activeTxnGoroutines.Delete(gid)
	}
}

func isTxnActive(gid int64) bool {
	v, ok := activeTxnGoroutines.Load(gid)
	if !ok {
		return false
	}
	return atomic.LoadInt32(v.(*int32)) > 0
}
