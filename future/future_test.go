package future

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/tiancaiamao/wstm"
)

func TestDoneResolvesResult(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()

	if r.IsDone() {
		t.Fatal("expected pending result to report not done")
	}

	d.Done(42)

	if !r.IsDone() {
		t.Fatal("expected result to report done after Done")
	}
	val, err := r.GetResult()
	if err != nil || val != 42 {
		t.Fatalf("got (%v, %v), want (42, nil)", val, err)
	}
}

func TestFailResolvesResultWithError(t *testing.T) {
	d := NewDeferredValue[string]()
	r := d.Result()
	boom := errors.New("boom")

	d.Fail(boom)

	if !r.Failed() {
		t.Fatal("expected result to report failed")
	}
	if got := r.ThrowError(); !errors.Is(got, boom) {
		t.Fatalf("got %v, want %v", got, boom)
	}
}

func TestOnDoneRunsImmediatelyIfAlreadyResolved(t *testing.T) {
	d := NewDeferredValue[int]()
	d.Done(1)

	ran := false
	d.Result().OnDone(func() { ran = true })
	if !ran {
		t.Fatal("expected OnDone to run synchronously for an already-resolved result")
	}
}

func TestOnDoneRunsOnceResolved(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()

	ran := make(chan struct{}, 1)
	r.OnDone(func() { ran <- struct{}{} })

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Done(7)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDone hook never ran")
	}
}

func TestWaitBlocksUntilDone(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Done(9)
	}()

	if !r.Wait(time.Second) {
		t.Fatal("Wait timed out waiting for Done")
	}
}

func TestWaitTimesOut(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()
	defer d.Release()

	if r.Wait(20 * time.Millisecond) {
		t.Fatal("expected Wait to time out on a never-resolved result")
	}
}

func TestReleaseBreaksPromise(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()

	d.Release()

	if !r.Failed() {
		t.Fatal("expected a released, never-resolved result to report failed")
	}
	if err := r.ThrowError(); !errors.Is(err, ErrBrokenPromise) {
		t.Fatalf("got %v, want ErrBrokenPromise", err)
	}
}

func TestRetryIfNotDoneWakesOnDone(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()
	done := make(chan int, 1)

	go func() {
		got := wstm.Atomically(func(tx *wstm.Txn) int {
			r.RetryIfNotDone(tx, 0)
			v, _ := r.GetResult()
			return v
		})
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	d.Done(123)

	select {
	case got := <-done:
		if got != 123 {
			t.Fatalf("got %d, want 123", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction never woke up")
	}
}

// TestDroppedProducerBreaksPromise exercises the unreferenced-producer
// scenario: a DeferredValue that is never Done/Fail/Release-d and becomes
// unreachable should still resolve its consumer, via the AddCleanup
// backstop, once the garbage collector reclaims it.
func TestDroppedProducerBreaksPromise(t *testing.T) {
	var r *DeferredResult[int]
	func() {
		d := NewDeferredValue[int]()
		r = d.Result()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if r.IsDone() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !r.IsDone() {
		t.Fatal("expected the dropped producer's cleanup to resolve the result")
	}
	if err := r.ThrowError(); !errors.Is(err, ErrBrokenPromise) {
		t.Fatalf("got %v, want ErrBrokenPromise", err)
	}
}

func TestZeroValueDeferredResultPanics(t *testing.T) {
	defer func() {
		r := recover()
		if !errors.Is(asError(r), ErrInvalidDeferredResult) {
			t.Fatalf("got %v, want ErrInvalidDeferredResult", r)
		}
	}()
	var r DeferredResult[int]
	r.IsDone()
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

func TestHasReadersReflectsAccess(t *testing.T) {
	d := NewDeferredValue[int]()
	if d.HasReaders() {
		t.Fatal("expected no readers before Result is called")
	}
	r := d.Result()
	if !d.HasReaders() {
		t.Fatal("expected HasReaders to be true once a handle exists")
	}
	r.IsDone()
	if !d.HasReaders() {
		t.Fatal("expected HasReaders to still be true after a read")
	}
}

// TestHasReadersGoesBackToFalseAfterRelease confirms HasReaders is a live
// count of outstanding handles, not a monotonic "was ever read" flag: it
// must return to false once the only handle is explicitly released, the
// same behavior the original has_readers test asserts across a
// WDeferredResult's destructor.
func TestHasReadersGoesBackToFalseAfterRelease(t *testing.T) {
	d := NewDeferredValue[int]()
	r := d.Result()
	r.IsDone()
	if !d.HasReaders() {
		t.Fatal("expected HasReaders to be true while the handle is live")
	}

	r.Release()

	if d.HasReaders() {
		t.Fatal("expected HasReaders to go back to false once the handle is released")
	}
}

// TestHasReadersGoesBackToFalseAfterGC is TestHasReadersGoesBackToFalseAfterRelease
// for a handle that is dropped without an explicit Release, relying on the
// runtime.AddCleanup backstop the same way TestDroppedProducerBreaksPromise
// relies on it for the producer side.
func TestHasReadersGoesBackToFalseAfterGC(t *testing.T) {
	d := NewDeferredValue[int]()
	func() {
		r := d.Result()
		r.IsDone()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if !d.HasReaders() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected HasReaders to go back to false once the handle was collected")
}

// TestHasReadersCountsIndependentHandles confirms two independently
// obtained handles are tracked separately: releasing one must not make
// HasReaders false while the other is still live.
func TestHasReadersCountsIndependentHandles(t *testing.T) {
	d := NewDeferredValue[int]()
	r1 := d.Result()
	r2 := d.Result()

	r1.Release()
	if !d.HasReaders() {
		t.Fatal("expected HasReaders to stay true while r2 is still live")
	}

	r2.Release()
	if d.HasReaders() {
		t.Fatal("expected HasReaders to go false once both handles are released")
	}
}
