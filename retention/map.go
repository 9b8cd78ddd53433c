// Package retention holds the single per-tag writable chunk for every tag known to a buffer, and
// implements the grow-by-doubling and seal-on-threshold policy described in the buffer's design.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/bufferpool"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
)

// Sealer accepts a sealed chunk for downstream flush or backup. Enqueue may block; it must respect
// ctx cancellation rather than blocking forever.
type Sealer interface {
	Enqueue(ctx context.Context, chunk base.TaggedChunk) error
}

// Map owns exactly one writable *base.RetentionBuffer per tag, all operations on which — lookup,
// growth, installation and seal — execute under a single mutex. The lock is held across the seal
// hand-off to Sealer.Enqueue, including its blocking wait while the FlushQueue is full, so a full
// FlushQueue applies backpressure straight to appenders (see 4.2 / 9). It is never held across a
// transporter call.
type Map struct {
	logger        logger.Logger
	mu            sync.Mutex
	entries       map[string]*base.RetentionBuffer
	pool          *bufferpool.Pool
	sealer        Sealer
	initialSize   int64
	expandRatio   float64
	retentionSize int64
	retentionTime time.Duration
	metrics       mapMetrics
}

// Config carries the growth/seal tunables, normally sourced from Config.VerifyConfig defaults
type Config struct {
	InitialSize   int64
	ExpandRatio   float64
	RetentionSize int64
	RetentionTime time.Duration
}

// New creates a Map. sealer receives every chunk this Map seals, in the same goroutine that
// triggered the seal (an appender's Append, or a caller of Sweep).
func New(parentLogger logger.Logger, pool *bufferpool.Pool, sealer Sealer, cfg Config, metricFactory *base.MetricFactory) *Map {
	if cfg.ExpandRatio <= 1 {
		cfg.ExpandRatio = defs.DefaultChunkExpandRatio
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = defs.DefaultChunkInitialSize
	}
	if cfg.RetentionSize <= 0 {
		cfg.RetentionSize = defs.DefaultChunkRetentionSize
	}
	if cfg.RetentionTime <= 0 {
		cfg.RetentionTime = defs.DefaultChunkRetentionTime
	}
	return &Map{
		logger:        parentLogger.WithField(defs.LabelComponent, "RetentionMap"),
		entries:       make(map[string]*base.RetentionBuffer),
		pool:          pool,
		sealer:        sealer,
		initialSize:   cfg.InitialSize,
		expandRatio:   cfg.ExpandRatio,
		retentionSize: cfg.RetentionSize,
		retentionTime: cfg.RetentionTime,
		metrics:       newMapMetrics(metricFactory),
	}
}

// Append commits data under tag, growing or sealing the tag's chunk as needed. It returns
// base.ErrBufferFull if the pool's ceiling blocks a required growth, or whatever Sealer.Enqueue
// returns (typically base.ErrCancelled) if a seal is triggered and the hand-off is refused.
func (m *Map) Append(ctx context.Context, tag string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, exists := m.entries[tag]
	if !exists {
		grown, err := m.allocate(m.initialSize, len(data))
		if err != nil {
			return err
		}
		buf = grown
		m.entries[tag] = buf
		m.metrics.activeTags.Inc()
	} else if !buf.Fits(len(data)) {
		grown, err := m.grow(buf, len(data))
		if err != nil {
			return err
		}
		buf = grown
		m.entries[tag] = buf
	}

	buf.Write(data)
	m.metrics.retainedBytes.Add(uint64(len(data)))

	if int64(buf.Position) > m.retentionSize {
		return m.sealLocked(ctx, tag)
	}
	return nil
}

// allocate acquires a fresh RetentionBuffer whose capacity is at least min(needed) and a multiple
// of initialSize's doubling series, per the growth algorithm used for both first-write and grow.
func (m *Map) allocate(initial int64, need int) (*base.RetentionBuffer, error) {
	target := initial
	for target < int64(need) {
		target = int64(float64(target) * m.expandRatio)
	}
	region := m.pool.Acquire(int(target))
	if region == nil {
		m.metrics.growthFailures.Inc()
		return nil, base.ErrBufferFull
	}
	return &base.RetentionBuffer{Region: region, CreatedAt: time.Now()}, nil
}

// grow replaces buf with a larger RetentionBuffer carrying its committed bytes forward, doubling
// capacity from the current one until the pending write fits (spec 4.2).
func (m *Map) grow(buf *base.RetentionBuffer, need int) (*base.RetentionBuffer, error) {
	target := int64(buf.Region.Capacity())
	required := int64(buf.Position + need)
	for target < required {
		target = int64(float64(target) * m.expandRatio)
	}

	region := m.pool.Acquire(int(target))
	if region == nil {
		m.metrics.growthFailures.Inc()
		return nil, base.ErrBufferFull
	}

	grown := &base.RetentionBuffer{Region: region, CreatedAt: time.Now()}
	grown.Write(buf.Region.Data[:buf.Position])
	m.pool.Release(buf.Region)
	m.metrics.growthsTotal.Inc()
	return grown, nil
}

// sealLocked seals the tag's current chunk and hands it to the Sealer, called with m.mu held.
func (m *Map) sealLocked(ctx context.Context, tag string) error {
	buf := m.entries[tag]
	chunk := buf.Seal(tag)
	delete(m.entries, tag)
	m.metrics.activeTags.Dec()
	m.metrics.sealsTotal.Inc()

	if err := m.sealer.Enqueue(ctx, chunk); err != nil {
		m.logger.Warnf("seal hand-off refused: tag=%s len=%d: %s", tag, chunk.Len(), err.Error())
		return err
	}
	return nil
}

// Sweep seals every tag whose chunk is due: age-based (Age > retentionTime, strictly) unless force
// is set, in which case every non-empty chunk is sealed regardless of age. It is meant to be called
// periodically by the flush driver and once more, forced, during shutdown.
func (m *Map) Sweep(ctx context.Context, now time.Time, force bool) []error {
	m.mu.Lock()
	due := make([]string, 0, len(m.entries))
	for tag, buf := range m.entries {
		if buf.Position == 0 {
			continue
		}
		if force || buf.Age(now) > m.retentionTime {
			due = append(due, tag)
		}
	}

	var errs []error
	for _, tag := range due {
		if err := m.sealLocked(ctx, tag); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()
	return errs
}

// ActiveTags returns the number of tags with a live (unsealed) chunk
func (m *Map) ActiveTags() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// BufferedDataSize returns the sum of committed bytes across all live chunks
func (m *Map) BufferedDataSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, buf := range m.entries {
		total += int64(buf.Position)
	}
	return total
}
