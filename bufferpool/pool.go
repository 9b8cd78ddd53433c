// Package bufferpool provides a fixed-size chunk allocator with a configurable global byte
// ceiling, backing github.com/relex/eventbuf's per-tag retention buffers. Regions are handed out
// in power-of-two capacity classes and cached on release in a freelist keyed by class (a
// concurrent map of per-class, mutex-guarded buckets),
// so steady-state operation reuses regions instead of allocating and freeing continuously.
package bufferpool

import (
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
)

// Mode selects the storage backing of allocated regions
type Mode int

const (
	// ModeHeap allocates regions as ordinary Go-managed byte slices
	ModeHeap Mode = iota
	// ModeDirect allocates regions as anonymous mmap'd memory, outside the GC-scanned heap
	ModeDirect
)

func (m Mode) String() string {
	if m == ModeDirect {
		return defs.StorageModeDirect
	}
	return defs.StorageModeHeap
}

// Pool is a fixed-size chunk allocator with a global byte ceiling. Acquire/Release are safe for
// concurrent use by multiple appender goroutines and a single flusher goroutine.
type Pool struct {
	logger    logger.Logger
	mode      Mode
	maxBytes  int64
	allocated int64 // atomic: outstanding + cached capacity, see Release
	freelist  *xsync.Map
	metrics   poolMetrics
}

// New creates a Pool with the given mode and byte ceiling
func New(parentLogger logger.Logger, mode Mode, maxBytes int64, metricFactory *base.MetricFactory) *Pool {
	plogger := parentLogger.WithField(defs.LabelComponent, "BufferPool")
	return &Pool{
		logger:   plogger,
		mode:     mode,
		maxBytes: maxBytes,
		freelist: xsync.NewMap(),
		metrics:  newPoolMetrics(metricFactory),
	}
}

// Mode returns the storage mode fixed at construction
func (p *Pool) Mode() Mode {
	return p.mode
}

// AllocatedSize returns allocated_bytes: outstanding plus freelist-cached capacity
func (p *Pool) AllocatedSize() int64 {
	return atomic.LoadInt64(&p.allocated)
}

// MaxBytes returns the configured ceiling
func (p *Pool) MaxBytes() int64 {
	return p.maxBytes
}

// Usage returns allocated / max in [0, 1], or 0 if max is unset
func (p *Pool) Usage() float64 {
	if p.maxBytes <= 0 {
		return 0
	}
	return float64(p.AllocatedSize()) / float64(p.maxBytes)
}

// Acquire returns a region of capacity >= size, or nil if the ceiling would be exceeded.
// It first tries the freelist bucket for the exact capacity class computed from size; on a
// miss it attempts to reserve fresh capacity against the ceiling before allocating.
func (p *Pool) Acquire(size int) *base.Region {
	class := classFor(size)
	capacity := 1 << class

	if bucket, ok := p.bucket(class); ok {
		if region, ok := bucket.pop(); ok {
			return region
		}
	}

	if !p.reserve(int64(capacity)) {
		p.metrics.acquireFailures.Inc()
		return nil
	}

	return &base.Region{Data: allocate(p.mode, capacity), Class: class, Pooled: true}
}

// Release returns a region to the freelist for reuse. allocated_bytes is not decreased, so it
// continues to reflect outstanding + cached capacity, per spec 4.1 / 9. Regions not obtained from
// this pool (Pooled == false, e.g. a chunk replayed from a backup file) are silently ignored.
func (p *Pool) Release(region *base.Region) {
	if region == nil || !region.Pooled {
		return
	}
	bucket := p.getOrCreateBucket(region.Class)
	bucket.push(region)
}

// ReleaseAll drops every cached region (munmap'ing direct ones) and resets allocated_bytes to zero
func (p *Pool) ReleaseAll() {
	p.freelist.Range(func(key string, value interface{}) bool {
		bucket, _ := value.(*classBucket)
		bucket.drain(p.mode)
		return true
	})
	previous := atomic.SwapInt64(&p.allocated, 0)
	p.metrics.allocatedBytes.Sub(previous)
}

func (p *Pool) reserve(capacity int64) bool {
	for {
		current := atomic.LoadInt64(&p.allocated)
		if p.maxBytes > 0 && current+capacity > p.maxBytes {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.allocated, current, current+capacity) {
			p.metrics.allocatedBytes.Add(capacity)
			return true
		}
	}
}

func (p *Pool) bucket(class int) (*classBucket, bool) {
	value, ok := p.freelist.Load(strconv.Itoa(class))
	if !ok {
		return nil, false
	}
	bucket, _ := value.(*classBucket)
	return bucket, bucket != nil
}

func (p *Pool) getOrCreateBucket(class int) *classBucket {
	key := strconv.Itoa(class)
	value, _ := p.freelist.LoadOrStore(key, newClassBucket())
	bucket, _ := value.(*classBucket)
	return bucket
}

// classFor computes the smallest power-of-two class whose capacity (1<<class) is >= size
func classFor(size int) int {
	if size <= 1 {
		return 0
	}
	class := 0
	for (1 << class) < size {
		class++
	}
	return class
}
