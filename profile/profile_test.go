//go:build wstmprofile

package profile

import (
	"os"
	"testing"
)

func TestAttemptCommitRoundTrips(t *testing.T) {
	reset()

	a := Begin("vars_test.go", 42)
	a.NameThread("worker-0")
	a.NameTransaction("transfer")
	a.NameVar(0x1000, "balance.from")
	a.NameVar(0x2000, "balance.to")
	a.StartAttempt()
	a.Commit([]uintptr{0x1000, 0x2000})
	a.End()

	dir := t.TempDir()
	path, err := Flush(dir)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	frames, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var sawCommit, sawVarName bool
	var sawNames int
	for _, f := range frames {
		switch f.Kind {
		case KindCommit:
			sawCommit = true
			if len(f.IDs) != 2 || f.IDs[0] != 0x1000 || f.IDs[1] != 0x2000 {
				t.Errorf("commit ids = %v, want [0x1000, 0x2000]", f.IDs)
			}
		case KindVarName:
			sawVarName = true
		case KindNameData:
			sawNames++
		}
	}
	if !sawCommit {
		t.Error("expected a Commit frame")
	}
	if !sawVarName {
		t.Error("expected a VarName frame")
	}
	if sawNames == 0 {
		t.Error("expected at least one NameData frame")
	}
}

func TestAttemptNestedDoesNotRecord(t *testing.T) {
	reset()

	a := Begin("vars_test.go", 7)
	a.StartAttempt()
	a.EnterChild()
	a.Commit([]uintptr{0x42}) // should be suppressed: depth > 0
	a.ExitChild()
	a.Commit([]uintptr{0x43}) // outermost: recorded
	a.End()

	dir := t.TempDir()
	path, _ := Flush(dir)
	raw, _ := os.ReadFile(path)
	frames, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var commits int
	for _, f := range frames {
		if f.Kind == KindCommit {
			commits++
			if len(f.IDs) != 1 || f.IDs[0] != 0x43 {
				t.Errorf("unexpected commit ids %v", f.IDs)
			}
		}
	}
	if commits != 1 {
		t.Errorf("got %d commit frames, want 1", commits)
	}
}

func TestPageSpill(t *testing.T) {
	reset()

	a := Begin("vars_test.go", 1)
	a.StartAttempt()
	// A write set large enough that the id array must straddle at least
	// one page boundary.
	ids := make([]uintptr, DefaultPageSize/4)
	for i := range ids {
		ids[i] = uintptr(i + 1)
	}
	a.Commit(ids)
	a.End()

	dir := t.TempDir()
	path, _ := Flush(dir)
	raw, _ := os.ReadFile(path)
	if len(raw) <= DefaultPageSize {
		t.Fatalf("expected captured frame to spill past one page, got %d bytes", len(raw))
	}
	frames, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, f := range frames {
		if f.Kind == KindCommit && len(f.IDs) != len(ids) {
			t.Errorf("got %d ids back, want %d", len(f.IDs), len(ids))
		}
	}
}
