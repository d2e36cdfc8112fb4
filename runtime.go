package wstm

import "go.uber.org/zap"

// Runtime owns one arbiter and the logger used for its debug tracing. Most
// callers use the package-level functions (Atomically, Inconsistently),
// which share defaultRuntime; construct a Runtime explicitly to run an
// isolated arbiter — useful for tests that must not interfere with each
// other's commit signal.
type Runtime struct {
	arbiter *arbiter
	logger  *zap.Logger
}

// NewRuntime builds a Runtime with its own arbiter. A nil logger installs
// zap.NewNop(), so passing nil is always safe and free.
func NewRuntime(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{arbiter: newArbiter(), logger: logger}
}

var defaultRuntime = NewRuntime(nil)

// SetDefaultLogger installs logger on the package-level default Runtime
// used by Atomically and Inconsistently. Intended to be called once during
// process startup.
func SetDefaultLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultRuntime.logger = logger
}
