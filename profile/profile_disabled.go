//go:build !wstmprofile

package profile

// Attempt is the zero-cost stand-in used when the wstmprofile build tag is
// not set: every method is an empty inline-able no-op on a nil receiver,
// so the runtime's calls into this package compile away to nothing and
// carry no cost on the variable read/write hot path.
type Attempt struct{}

// Begin returns nil; every Attempt method below tolerates a nil receiver.
func Begin(file string, line int) *Attempt { return nil }

func (a *Attempt) NameThread(name string)             {}
func (a *Attempt) NameTransaction(name string)        {}
func (a *Attempt) NameVar(varID uintptr, name string) {}
func (a *Attempt) EnterChild()                        {}
func (a *Attempt) ExitChild()                         {}
func (a *Attempt) StartAttempt()                      {}
func (a *Attempt) Commit(ids []uintptr)                {}
func (a *Attempt) Conflict(ids []uintptr)              {}
func (a *Attempt) End()                                {}
