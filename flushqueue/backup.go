package flushqueue

import (
	"sync"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"
)

// BackupQueue is an unbounded, in-memory overflow area for chunks the primary Queue could not
// accept. It is drained into the file backup store on shutdown; nothing moves its chunks back
// onto the primary. It never itself refuses a Push.
type BackupQueue struct {
	logger  logger.Logger
	mu      sync.Mutex
	items   []base.TaggedChunk
	metrics backupMetrics
}

type backupMetrics struct {
	depth promexporter.RWGauge
}

// NewBackupQueue creates an empty BackupQueue
func NewBackupQueue(parentLogger logger.Logger, metricFactory *base.MetricFactory) *BackupQueue {
	return &BackupQueue{
		logger: parentLogger.WithField(defs.LabelComponent, "BackupQueue"),
		metrics: backupMetrics{
			depth: metricFactory.AddOrGetGauge("backup_queue_depth", "Numbers of sealed chunks waiting in the unbounded backup queue", nil, nil),
		},
	}
}

// Push appends chunk unconditionally
func (b *BackupQueue) Push(chunk base.TaggedChunk) {
	b.mu.Lock()
	b.items = append(b.items, chunk)
	b.mu.Unlock()
	b.metrics.depth.Inc()
}

// Pop removes and returns the oldest chunk, or ok=false if empty
func (b *BackupQueue) Pop() (base.TaggedChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return base.TaggedChunk{}, false
	}
	chunk := b.items[0]
	b.items[0] = base.TaggedChunk{}
	b.items = b.items[1:]
	b.metrics.depth.Dec()
	return chunk, true
}

// Len returns the number of chunks currently held
func (b *BackupQueue) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// DrainAll removes and returns every chunk currently held
func (b *BackupQueue) DrainAll() []base.TaggedChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.items
	b.items = nil
	b.metrics.depth.Sub(int64(len(drained)))
	return drained
}
