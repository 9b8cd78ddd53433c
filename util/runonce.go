package util

import (
	"sync/atomic"
)

// RunOnce is a function wrapper that calls the underlying function at most once.
//
// Returns true when the wrapper function is actually called.
//
// eventbuffer.Buffer wraps its own shutdown (closeLocked, which stops the flush driver, force-flushes
// and persists whatever remains to disk) with this: Close is safe to call more than once — from a
// signal handler and a deferred cleanup, say — without seal/flush errors or double-persisted chunks.
type RunOnce func() bool

// NewRunOnce creates a function that calls f at most once; the caller that wins the
// compare-and-swap runs f and gets true back, every other caller gets false.
func NewRunOnce(f func()) func() bool {
	var invoked int32
	return func() bool {
		if atomic.CompareAndSwapInt32(&invoked, 0, 1) {
			f()
			return true
		}
		return false
	}
}
