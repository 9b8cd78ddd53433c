package util

import (
	"sync"
	"sync/atomic"
)

// TrackedWaitGroup is a sync.WaitGroup that also exposes its current outstanding count.
// eventbuffer.Buffer uses one to track its two background driver goroutines (the sweep ticker and
// the flush-drain loop, both started by Start): a plain sync.WaitGroup has no way to answer "how
// many of these are still running", which DriverBacklog needs to diagnose a Close that appears to
// hang without guessing from the caller's own bookkeeping.
type TrackedWaitGroup struct {
	wg    sync.WaitGroup
	count atomic.Int64
}

// Add mirrors sync.WaitGroup.Add and adjusts the tracked count by the same delta.
func (twg *TrackedWaitGroup) Add(delta int) {
	twg.wg.Add(delta)
	twg.count.Add(int64(delta))
}

// Done mirrors sync.WaitGroup.Done, called by each driver goroutine on return.
func (twg *TrackedWaitGroup) Done() {
	twg.wg.Done()
	twg.count.Add(-1)
}

// Peek returns the number of goroutines added but not yet Done, without blocking.
func (twg *TrackedWaitGroup) Peek() int {
	return int(twg.count.Load())
}

// Wait blocks until every added goroutine has called Done.
func (twg *TrackedWaitGroup) Wait() {
	twg.wg.Wait()
}
