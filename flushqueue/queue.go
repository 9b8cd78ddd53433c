// Package flushqueue implements the two hand-off queues sealed chunks travel through: a bounded
// FlushQueue that applies backpressure to sealing appenders, and an unbounded BackupQueue that
// only ever receives chunks the flush driver could not deliver or re-enqueue.
package flushqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"
)

// Queue is the bounded FlushQueue. Enqueue blocks once it is full, which is the mechanism by
// which retention.Map's sealing operation is throttled by a slow flush driver (spec 4.2 / 9).
type Queue struct {
	logger      logger.Logger
	ch          chan base.TaggedChunk
	backup      *BackupQueue
	queuedBytes int64 // cumulative bytes of chunks currently queued, kept via atomic add/sub
	metrics     queueMetrics
}

type queueMetrics struct {
	depth     promexporter.RWGauge
	enqueued  promexporter.RWCounter
	cancelled promexporter.RWCounter
	backedUp  promexporter.RWCounter
}

// New creates a Queue with the given capacity, backed by backup for the flush driver's own
// failed-redelivery path (see Requeue).
func New(parentLogger logger.Logger, capacity int, backup *BackupQueue, metricFactory *base.MetricFactory) *Queue {
	if capacity <= 0 {
		capacity = defs.DefaultFlushQueueCapacity
	}
	return &Queue{
		logger: parentLogger.WithField(defs.LabelComponent, "FlushQueue"),
		ch:     make(chan base.TaggedChunk, capacity),
		backup: backup,
		metrics: queueMetrics{
			depth:     metricFactory.AddOrGetGauge("flush_queue_depth", "Numbers of sealed chunks waiting in the primary flush queue", nil, nil),
			enqueued:  metricFactory.AddOrGetCounter("flush_queue_enqueued_total", "Numbers of chunks enqueued onto the primary flush queue", nil, nil),
			cancelled: metricFactory.AddOrGetCounter("flush_queue_cancelled_total", "Numbers of enqueue attempts abandoned due to cancellation", nil, nil),
			backedUp:  metricFactory.AddOrGetCounter("flush_queue_backed_up_total", "Numbers of chunks diverted to the backup queue instead of the primary", nil, nil),
		},
	}
}

// Enqueue blocks until the chunk is accepted or ctx is done, in which case it returns
// base.ErrCancelled without touching the backup queue: this is the seal hand-off path (spec 4.3),
// distinct from the flush driver's own failure-driven Requeue.
func (q *Queue) Enqueue(ctx context.Context, chunk base.TaggedChunk) error {
	select {
	case q.ch <- chunk:
		atomic.AddInt64(&q.queuedBytes, int64(chunk.Len()))
		q.metrics.depth.Inc()
		q.metrics.enqueued.Inc()
		return nil
	case <-ctx.Done():
		q.metrics.cancelled.Inc()
		return base.ErrCancelled
	}
}

// TryEnqueue attempts a non-blocking enqueue, used when a caller must not block (e.g. draining
// on shutdown after the primary is presumed full). Returns false if the queue is full.
func (q *Queue) TryEnqueue(chunk base.TaggedChunk) bool {
	select {
	case q.ch <- chunk:
		atomic.AddInt64(&q.queuedBytes, int64(chunk.Len()))
		q.metrics.depth.Inc()
		q.metrics.enqueued.Inc()
		return true
	default:
		return false
	}
}

// Dequeue blocks until a chunk is available, the queue is closed (ok=false), or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (base.TaggedChunk, bool) {
	select {
	case chunk, ok := <-q.ch:
		if ok {
			atomic.AddInt64(&q.queuedBytes, -int64(chunk.Len()))
			q.metrics.depth.Dec()
		}
		return chunk, ok
	case <-ctx.Done():
		return base.TaggedChunk{}, false
	}
}

// TryDequeue is a non-blocking Dequeue, used by Buffer.Flush to drain whatever is queued right now
// one chunk at a time without waiting for chunks that might arrive later (mirrors the Java
// original's Buffer.flushInternal, which polls rather than blocks). Returns false once the queue is
// empty or closed.
func (q *Queue) TryDequeue() (base.TaggedChunk, bool) {
	select {
	case chunk, ok := <-q.ch:
		if ok {
			atomic.AddInt64(&q.queuedBytes, -int64(chunk.Len()))
			q.metrics.depth.Dec()
		}
		return chunk, ok
	default:
		return base.TaggedChunk{}, false
	}
}

// Requeue is called by the flush driver when delivery of chunk failed and it must not be lost
// (spec 4.4 step 2 / 7). It waits out a short backoff so a persistently failing transporter cannot
// spin the flush loop, then attempts a blocking re-enqueue onto the primary queue; if that blocking
// put itself fails because ctx is done, the chunk is pushed onto the unbounded BackupQueue instead,
// to be persisted and retried on the next run rather than lost.
func (q *Queue) Requeue(ctx context.Context, chunk base.TaggedChunk) {
	select {
	case <-time.After(defs.FlushRetryBackoff):
	case <-ctx.Done():
		q.metrics.backedUp.Inc()
		q.backup.Push(chunk)
		return
	}
	if err := q.Enqueue(ctx, chunk); err != nil {
		q.metrics.backedUp.Inc()
		q.backup.Push(chunk)
	}
}

// Close closes the channel backing the primary queue; no further sends are permitted. Callers
// must ensure no goroutine calls Enqueue/TryEnqueue concurrently with Close.
func (q *Queue) Close() {
	close(q.ch)
}

// Len returns the number of chunks currently queued, for introspection / tests only
func (q *Queue) Len() int {
	return len(q.ch)
}

// QueuedBytes returns the cumulative byte size of every chunk currently queued, for
// eventbuffer.Buffer.BufferedDataSize (spec 6: "flush queue remaining", in bytes, not chunk count).
func (q *Queue) QueuedBytes() int64 {
	return atomic.LoadInt64(&q.queuedBytes)
}

// Drain removes and returns every chunk still queued, used during shutdown to move leftovers to
// backup rather than lose them.
func (q *Queue) Drain() []base.TaggedChunk {
	drained := make([]base.TaggedChunk, 0, len(q.ch))
	for {
		select {
		case chunk, ok := <-q.ch:
			if !ok {
				return drained
			}
			atomic.AddInt64(&q.queuedBytes, -int64(chunk.Len()))
			q.metrics.depth.Dec()
			drained = append(drained, chunk)
		default:
			return drained
		}
	}
}
