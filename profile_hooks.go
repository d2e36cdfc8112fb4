package wstm

import (
	"reflect"

	"github.com/tiancaiamao/wstm/profile"
)

// varAddr returns v's identity as the opaque, pointer-sized id the profiler
// uses to correlate VarName/Commit/Conflict frames.
func varAddr(v txnVar) uintptr {
	return reflect.ValueOf(v).Pointer()
}

func writeIDs(writes map[txnVar]any) []uintptr {
	if len(writes) == 0 {
		return nil
	}
	ids := make([]uintptr, 0, len(writes))
	for v := range writes {
		ids = append(ids, varAddr(v))
	}
	return ids
}

func readIDs(f *frame) []uintptr {
	var ids []uintptr
	for fr := f; fr != nil; fr = fr.parent {
		for v := range fr.reads {
			ids = append(ids, varAddr(v))
		}
	}
	return ids
}

// nameWrites emits a VarName frame via pa for every variable in writes that
// has a name attached with NameForProfiling, so a Commit frame's ids can be
// resolved back to human-readable names instead of raw addresses.
func nameWrites(pa *profile.Attempt, writes map[txnVar]any) {
	for v := range writes {
		if name := v.profilingName(); name != "" {
			pa.NameVar(varAddr(v), name)
		}
	}
}

// nameReads is nameWrites for a frame chain's accumulated read set, used
// before recording a Conflict frame.
func nameReads(pa *profile.Attempt, f *frame) {
	for fr := f; fr != nil; fr = fr.parent {
		for v := range fr.reads {
			if name := v.profilingName(); name != "" {
				pa.NameVar(varAddr(v), name)
			}
		}
	}
}
