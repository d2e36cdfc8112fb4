package wstm

import (
	"testing"
	"time"
)

// TestRetryWakesOnWrite is the producer/consumer scenario: a consumer
// blocks in Retry on an empty queue, a producer commits a write, and the
// consumer's attempt restarts and observes the new value.
func TestRetryWakesOnWrite(t *testing.T) {
	queue := NewVar(0)
	done := make(chan int, 1)

	go func() {
		got := Atomically(func(tx *Txn) int {
			v := queue.Get(tx)
			if v == 0 {
				tx.Retry(0)
			}
			return v
		})
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	Atomically(func(tx *Txn) any {
		queue.Set(tx, 7)
		return nil
	})

	select {
	case got := <-done:
		if got != 7 {
			t.Fatalf("got %d, want 7", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never woke up")
	}
}

// TestRetryTimeoutPanics confirms a bounded Retry with nothing ever
// satisfying it surfaces a RetryTimeoutError instead of hanging forever.
func TestRetryTimeoutPanics(t *testing.T) {
	v := NewVar(0)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a RetryTimeoutError panic")
		}
		if _, ok := r.(*RetryTimeoutError); !ok {
			t.Fatalf("got panic of type %T, want *RetryTimeoutError", r)
		}
	}()

	Atomically(func(tx *Txn) any {
		if v.Get(tx) == 0 {
			tx.Retry(30 * time.Millisecond)
		}
		return nil
	})
}

// TestRetryOutsideTransactionPanics confirms Retry requires an active frame.
func TestRetryOutsideTransactionPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r != ErrNotInTransaction {
			t.Fatalf("got %v, want ErrNotInTransaction", r)
		}
	}()
	Inconsistently(func(tx *Txn) any {
		tx.Retry(0)
		return nil
	})
}
