// Package profile implements the conflict-profiling capture path: a
// per-attempt ring of fixed-size pages recording commits, conflicts, and
// variable names, flushed to a global list and eventually written out as a
// binary stream meant for an external, offline post-processor that this
// module does not itself provide.
//
// Go has no goroutine-local storage, so pages here are owned by one
// top-level Atomically attempt at a time and grafted onto the global list
// when that attempt ends, rather than by a thread for its entire lifetime.
// Behaviorally the binary format and the eventual Flush output are
// identical either way, since the format is already a flat sequence of
// self-delimited frames with no thread-scoping markers of its own.
//
// Every exported entry point in this file compiles to the same signatures
// whether or not the wstmprofile build tag is set; see profile_enabled.go
// and profile_disabled.go for the two implementations of Attempt.
package profile

import "sync"

// FrameKind tags each self-delimited frame in the wire format.
type FrameKind uint8

const (
	KindVarName FrameKind = iota
	KindCommit
	KindConflict
	KindNameData
)

// DefaultPageSize is the size of one profiling page, chosen to match a
// typical OS page so a page buffer allocates and reclaims cleanly.
const DefaultPageSize = 4 * 1024

// page is one fixed-size buffer in a thread's (here: one attempt's) chain.
// Once handed off to the global registry a page is never mutated again, so
// no further synchronization is needed to read it back out at Flush time.
type page struct {
	next *page
	used int
	data [DefaultPageSize]byte
}

func newPage() *page { return &page{} }

func (p *page) remaining() int { return len(p.data) - p.used }

// reserve returns a slice of exactly n unused bytes and advances the
// cursor, or nil if n doesn't fit in what's left of this page.
func (p *page) reserve(n int) []byte {
	if n > p.remaining() {
		return nil
	}
	b := p.data[p.used : p.used+n]
	p.used += n
	return b
}

// registry is the global list every attempt's finished page chain is
// grafted onto, plus the name-interning table. Go gives us no stable
// address for a string literal to key a name by, so an auto-incrementing
// id plays that role instead; frames reference names by this id, and the
// id-to-string mapping is written out once per flush as NameData frames.
type registry struct {
	mu        sync.Mutex
	firstPage *page
	lastPage  *page
	names     map[string]uint64
	nextName  uint64
}

var global = &registry{names: make(map[string]uint64)}

func (r *registry) internName(name string) uint64 {
	if name == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.names[name]; ok {
		return id
	}
	r.nextName++
	id := r.nextName
	r.names[name] = id
	return id
}

func (r *registry) appendPages(head, tail *page) {
	if head == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstPage == nil {
		r.firstPage = head
	} else {
		r.lastPage.next = head
	}
	r.lastPage = tail
}

func (r *registry) snapshot() (*page, map[string]uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make(map[string]uint64, len(r.names))
	for k, v := range r.names {
		names[k] = v
	}
	return r.firstPage, names
}

// reset clears all captured pages and interned names. Exposed only for
// tests that need a clean registry between cases.
func reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.firstPage = nil
	global.lastPage = nil
	global.names = make(map[string]uint64)
	global.nextName = 0
}
