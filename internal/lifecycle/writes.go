// Package lifecycle provides the reference primitive that gates
// background work against filesystem shutdown.
package lifecycle

import "sync"

// WritesRef counts in-flight background passes that mutate the keyed
// stores. A pass holds the reference for its whole duration so shutdown
// waits for it; once Close has begun, TryHold fails and new passes are
// dropped.
type WritesRef struct {
	mu     sync.Mutex
	cond   *sync.Cond
	held   int
	closed bool
}

// NewWritesRef returns an open reference with no holders.
func NewWritesRef() *WritesRef {
	r := &WritesRef{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// TryHold acquires the reference. It fails once Close has been called;
// shutdown wins over new background work.
func (r *WritesRef) TryHold() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.held++
	return true
}

// Release drops one hold. Must be called exactly once per successful
// TryHold, on every exit path.
func (r *WritesRef) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held--
	if r.held == 0 {
		r.cond.Broadcast()
	}
}

// Close marks the reference closed and blocks until all holders have
// released. Safe to call more than once.
func (r *WritesRef) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for r.held > 0 {
		r.cond.Wait()
	}
}
