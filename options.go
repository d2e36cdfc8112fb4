package wstm

import "time"

// ConflictResolution selects what happens when an Atomically call exceeds
// its MaxConflicts budget.
type ConflictResolution int

const (
	// ThrowOnMaxConflicts fails the call with a *ConflictLimitError once
	// MaxConflicts is exceeded. This is the default.
	ThrowOnMaxConflicts ConflictResolution = iota
	// RunLockedOnMaxConflicts re-attempts the transaction with the
	// arbiter's upgrade hold taken for the whole attempt, serializing it
	// against every other committer and guaranteeing it will commit. Use
	// for hot, heavily-contended transactions that should eventually make
	// forward progress rather than fail.
	RunLockedOnMaxConflicts
)

// options holds the resolved configuration for one Atomically call. The
// zero value is not meaningful on its own; use defaultOptions.
type options struct {
	maxConflicts       int // -1 means unlimited
	conflictResolution ConflictResolution
	maxRetries         int // -1 means unlimited
	maxRetryWait       time.Duration
	file               string
	line               int
}

func defaultOptions() options {
	return options{
		maxConflicts:       -1,
		conflictResolution: ThrowOnMaxConflicts,
		maxRetries:         -1,
		maxRetryWait:       0,
	}
}

// Option configures a single Atomically call, named-argument style.
type Option func(*options)

// WithMaxConflicts caps the number of read-set conflicts an attempt may hit
// before it is considered failed (subject to conflictResolution). A
// negative value means unlimited, which is the default.
func WithMaxConflicts(n int) Option {
	return func(o *options) { o.maxConflicts = n }
}

// WithConflictResolution selects the behavior once MaxConflicts is hit.
func WithConflictResolution(r ConflictResolution) Option {
	return func(o *options) { o.conflictResolution = r }
}

// WithMaxRetries caps the number of times tx.Retry may abandon an attempt
// before Atomically fails with a *RetryLimitError. Negative means
// unlimited, which is the default.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithMaxRetryWait bounds the wait inside any single tx.Retry call,
// regardless of the timeout passed to Retry itself. Zero means no extra
// ceiling is imposed (the default).
func WithMaxRetryWait(d time.Duration) Option {
	return func(o *options) { o.maxRetryWait = d }
}

// WithProfilingSite attaches a file/line pair to the conflict-profiling
// frames this transaction emits. Most callers leave this unset; Atomically
// fills it in from runtime.Caller automatically.
func WithProfilingSite(file string, line int) Option {
	return func(o *options) { o.file, o.line = file, line }
}

func buildOptions(opts []Option) options {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func minWait(requested, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return requested
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
