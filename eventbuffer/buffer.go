// Package eventbuffer wires together the pool, retention map, flush/backup queues, file backup
// store and record encoder into a single tag-partitioned event buffer, and drives the background
// flush loop that hands sealed chunks to a base.Transporter.
package eventbuffer

import (
	"context"
	"time"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/bufferpool"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/eventbuf/filebackup"
	"github.com/relex/eventbuf/flushqueue"
	"github.com/relex/eventbuf/retention"
	"github.com/relex/eventbuf/util"
	"github.com/relex/gotils/logger"
)

// Buffer is the facade external callers use: Append records under a tag, and the background
// driver seals and flushes chunks, re-enqueueing any whose delivery fails. Chunks are written to
// disk only by Close.
type Buffer struct {
	logger      logger.Logger
	pool        *bufferpool.Pool
	retention   *retention.Map
	flush       *flushqueue.Queue
	backup      *flushqueue.BackupQueue
	store       *filebackup.Store
	encoder     base.Encoder
	transporter base.Transporter

	driverWg     util.TrackedWaitGroup
	driverCancel context.CancelFunc
	closeOnce    func() bool
	closeCtx     context.Context
	closeErr     error
}

// New constructs a Buffer without starting its background driver; call Init then Start.
func New(parentLogger logger.Logger, cfg Config, enc base.Encoder, transporter base.Transporter, metricFactory *base.MetricFactory) (*Buffer, error) {
	if err := cfg.VerifyConfig(); err != nil {
		return nil, err
	}

	blogger := parentLogger.WithField(defs.LabelComponent, "Buffer")
	pool := bufferpool.New(blogger, cfg.storageMode(), int64(cfg.MaxBufferSize), metricFactory)
	backupQueue := flushqueue.NewBackupQueue(blogger, metricFactory)
	flushQueue := flushqueue.New(blogger, cfg.FlushQueueCapacity, backupQueue, metricFactory)
	store := filebackup.New(blogger, cfg.BackupRootPath, cfg.FileBackupPrefix, metricFactory)

	buf := &Buffer{
		logger:      blogger,
		pool:        pool,
		flush:       flushQueue,
		backup:      backupQueue,
		store:       store,
		encoder:     enc,
		transporter: transporter,
	}
	buf.closeOnce = util.NewRunOnce(buf.closeLocked)
	buf.retention = retention.New(blogger, pool, flushQueue, retention.Config{
		InitialSize:   int64(cfg.ChunkInitialSize),
		ExpandRatio:   cfg.ChunkExpandRatio,
		RetentionSize: int64(cfg.ChunkRetentionSize),
		RetentionTime: cfg.ChunkRetentionTime,
	}, metricFactory)
	return buf, nil
}

// Init replays chunks left on disk by a prior run onto the flush queue, in tag order and oldest
// generation first within each tag. It must be
// called once, before Start, and before any Append.
func (b *Buffer) Init(ctx context.Context) error {
	saved, err := b.store.Scan()
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return nil
	}
	b.logger.Infof("replaying %d backup files from previous run", len(saved))
	for _, file := range saved {
		data, rerr := b.store.Open(file)
		if rerr != nil {
			b.logger.Errorf("failed to open backup file tag=%s gen=%d: %s", file.Tag, file.Generation, rerr.Error())
			continue
		}
		region := &base.Region{Data: data}
		chunk := base.TaggedChunk{Tag: file.Tag, Region: region, Limit: len(data)}
		if err := b.flush.Enqueue(ctx, chunk); err != nil {
			b.logger.Errorf("failed to requeue replayed chunk tag=%s: %s", file.Tag, err.Error())
			continue
		}
		if rerr := b.store.Remove(file); rerr != nil {
			b.logger.Warnf("failed to remove replayed backup file tag=%s gen=%d: %s", file.Tag, file.Generation, rerr.Error())
		}
	}
	return nil
}

// Start launches the background flush driver: a sweep ticker that seals due chunks, and a loop
// draining the flush queue into the transporter, handing a chunk whose delivery fails to
// flushqueue.Queue.Requeue.
func (b *Buffer) Start(ctx context.Context, flushInterval time.Duration) {
	driverCtx, cancel := context.WithCancel(ctx)
	b.driverCancel = cancel

	b.driverWg.Add(2)
	go b.runSweeper(driverCtx, flushInterval)
	go b.runFlushLoop(driverCtx)
}

// Append encodes fields under the given tag/timestamp and commits the result to the tag's
// retention chunk, sealing and flushing it if a threshold is crossed.
func (b *Buffer) Append(ctx context.Context, tag string, ts base.Timestamp, fields map[string]interface{}) error {
	encoded, err := b.encoder.EncodeRecord(ts, fields)
	if err != nil {
		return err
	}
	return b.retention.Append(ctx, tag, encoded)
}

// AppendEncoded is like Append but splices in an already-encoded field map, bypassing per-field
// encoding for producers that hold a pre-encoded payload.
func (b *Buffer) AppendEncoded(ctx context.Context, tag string, ts base.Timestamp, encodedFields []byte) error {
	encoded, err := b.encoder.EncodeEncodedRecord(ts, encodedFields)
	if err != nil {
		return err
	}
	return b.retention.Append(ctx, tag, encoded)
}

// Flush seals due chunks — every live chunk if force is true, otherwise only those already past
// their age threshold — then synchronously delivers whatever is queued through the transporter,
// one chunk at a time, returning the first error encountered (spec 6: flush(transporter, force) ->
// ok | IoError). Chunks are pulled off the queue one at a time (like runFlushLoop, and the Java
// original's Buffer.flushInternal polling loop) rather than drained up front: draining the whole
// queue into a local slice first would strand every chunk after the one that failed — removed from
// the queue by the drain, but never delivered, requeued, or released — since returning on the first
// error would abandon the rest of that slice. A chunk whose delivery fails here is handed to
// Requeue so it is not lost; every chunk dequeued before it has already been delivered and
// released, and every chunk still behind it in the queue is left there, untouched, for the next
// Flush or runFlushLoop iteration to pick up. ctx is checked before each chunk: once it is done,
// Flush stops and returns base.ErrCancelled, leaving the rest of the queue in place.
//
// Flush and the background driver started by Start both consume the same flush queue; calling
// Flush while Start is active is safe (channel receives are safe for concurrent consumers) but the
// two may race over which one delivers a given chunk.
func (b *Buffer) Flush(ctx context.Context, force bool) error {
	if errs := b.retention.Sweep(ctx, time.Now(), force); len(errs) > 0 {
		return errs[0]
	}
	for {
		if ctx.Err() != nil {
			return base.ErrCancelled
		}
		chunk, ok := b.flush.TryDequeue()
		if !ok {
			return nil
		}
		if err := b.transporter.Transport(chunk.Tag, chunk.Bytes()); err != nil {
			b.flush.Requeue(ctx, chunk)
			return err
		}
		b.pool.Release(chunk.Region)
	}
}

// Close stops the background driver, force-flushes every live chunk, and persists whatever could
// not be delivered (flush and backup queues) to disk for replay on the next Init. Safe to call more
// than once; only the first call does any work. Returns the first delivery or seal error
// encountered while flushing, if any — the chunk itself is never lost, only its delivery deferred.
func (b *Buffer) Close(ctx context.Context) error {
	b.closeCtx = ctx
	b.closeOnce()
	return b.closeErr
}

func (b *Buffer) closeLocked() {
	ctx := b.closeCtx

	// stop the background driver first so Flush below is the only consumer left on the queue
	if b.driverCancel != nil {
		b.driverCancel()
	}
	b.driverWg.Wait()

	if err := b.Flush(ctx, true); err != nil {
		b.closeErr = err
	}

	b.flush.Close()
	for _, chunk := range b.flush.Drain() {
		b.persistOrLog(chunk)
	}
	for _, chunk := range b.backup.DrainAll() {
		b.persistOrLog(chunk)
	}

	b.store.Close()
	b.pool.ReleaseAll()
}

// DriverBacklog returns the number of background driver goroutines still running (0, 1 or 2),
// useful for diagnosing a Close that appears to hang.
func (b *Buffer) DriverBacklog() int {
	return b.driverWg.Peek()
}

// ClearBackupFiles unconditionally deletes every backup file left on disk by a prior run, without
// replaying them (spec 6). It does not touch chunks currently held in memory or in the flush/backup
// queues; call it before Init to discard rather than resume a prior run's undelivered backlog.
func (b *Buffer) ClearBackupFiles() error {
	return b.store.ClearAll()
}

// BufferUsage returns the pool's allocated/max ratio in [0, 1]
func (b *Buffer) BufferUsage() float64 {
	return b.pool.Usage()
}

// AllocatedSize returns the pool's allocated_bytes
func (b *Buffer) AllocatedSize() int64 {
	return b.pool.AllocatedSize()
}

// BufferedDataSize returns bytes committed into live (unsealed) chunks plus the byte size of
// sealed chunks still sitting in the flush queue (spec 6).
func (b *Buffer) BufferedDataSize() int64 {
	return b.retention.BufferedDataSize() + b.flush.QueuedBytes()
}

// MaxBufferSize returns the pool's configured byte ceiling
func (b *Buffer) MaxBufferSize() int64 {
	return b.pool.MaxBytes()
}

func (b *Buffer) runSweeper(ctx context.Context, interval time.Duration) {
	defer b.driverWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if errs := b.retention.Sweep(ctx, now, false); len(errs) > 0 {
				b.logger.Warnf("errors during periodic sweep: count=%d", len(errs))
			}
		}
	}
}

func (b *Buffer) runFlushLoop(ctx context.Context) {
	defer b.driverWg.Done()
	for {
		chunk, ok := b.flush.Dequeue(ctx)
		if !ok {
			return
		}
		if err := b.transporter.Transport(chunk.Tag, chunk.Bytes()); err != nil {
			b.logger.Warnf("delivery failed, re-enqueueing: tag=%s len=%d: %s", chunk.Tag, chunk.Len(), err.Error())
			b.flush.Requeue(ctx, chunk)
			continue
		}
		b.pool.Release(chunk.Region)
	}
}

func (b *Buffer) persistOrLog(chunk base.TaggedChunk) {
	if _, err := b.store.Save(chunk); err != nil {
		b.logger.Errorf("failed to persist chunk on shutdown: tag=%s len=%d: %s", chunk.Tag, chunk.Len(), err.Error())
	}
	b.pool.Release(chunk.Region)
}
