package flushqueue

import (
	"context"
	"testing"
	"time"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_basic_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 2, backup, mf)

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("hello")}, Limit: 5}
	require.NoError(t, q.Enqueue(context.Background(), chunk))
	assert.Equal(t, 1, q.Len())

	got, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "t", got.Tag)
	assert.Equal(t, 0, q.Len())
}

func TestQueueEnqueueBlocksThenCancels(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_cancel_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 1, backup, mf)

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("x")}, Limit: 1}
	require.NoError(t, q.Enqueue(context.Background(), chunk)) // fills the one slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, chunk)
	assert.ErrorIs(t, err, base.ErrCancelled)
}

func TestQueueRequeueFallsBackToBackupWhenFull(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_requeue_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 1, backup, mf)

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("x")}, Limit: 1}
	require.True(t, q.TryEnqueue(chunk)) // fill primary

	ctx, cancel := context.WithTimeout(context.Background(), 2*defs.FlushRetryBackoff)
	defer cancel()
	q.Requeue(ctx, chunk)
	assert.Equal(t, 1, q.Len(), "primary still full")
	assert.Equal(t, 1, backup.Len(), "overflow chunk must land in backup once the blocking re-enqueue is cancelled")
}

func TestQueueRequeueSucceedsOntoPrimaryWhenRoomFrees(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_requeue_success_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 1, backup, mf)

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("x")}, Limit: 1}
	q.Requeue(context.Background(), chunk)

	assert.Equal(t, 1, q.Len(), "primary had room, chunk must land back on it")
	assert.Equal(t, 0, backup.Len())
}

func TestQueueTryDequeue(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_trydequeue_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 2, backup, mf)

	_, ok := q.TryDequeue()
	assert.False(t, ok, "empty queue must not block")

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("x")}, Limit: 1}
	require.True(t, q.TryEnqueue(chunk))

	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "t", got.Tag)

	_, ok = q.TryDequeue()
	assert.False(t, ok, "queue drained back to empty")
}

func TestQueueDrain(t *testing.T) {
	mf := base.NewMetricFactory("testqueue_drain_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)
	q := New(logger.Root(), 4, backup, mf)

	for i := 0; i < 3; i++ {
		require.True(t, q.TryEnqueue(base.TaggedChunk{Tag: "t"}))
	}
	drained := q.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, q.Len())
}

func TestBackupQueuePushPop(t *testing.T) {
	mf := base.NewMetricFactory("testbackup_", nil, nil)
	backup := NewBackupQueue(logger.Root(), mf)

	backup.Push(base.TaggedChunk{Tag: "a"})
	backup.Push(base.TaggedChunk{Tag: "b"})
	assert.Equal(t, 2, backup.Len())

	first, ok := backup.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", first.Tag, "FIFO order")

	drained := backup.DrainAll()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, backup.Len())

	_, ok = backup.Pop()
	assert.False(t, ok)
}
