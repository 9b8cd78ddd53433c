package eventbuffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/encoder"
	"github.com/relex/eventbuf/transport/fluentdforward"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxBufferSize = 4096

type recordingTransporter struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (t *recordingTransporter) Transport(tag string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return base.ErrIO
	}
	t.sent = append(t.sent, tag)
	return nil
}

func (t *recordingTransporter) sentTags() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func newTestConfig(t *testing.T, backupRoot string) Config {
	t.Helper()
	return Config{
		ChunkInitialSize:   64,
		ChunkExpandRatio:   2,
		ChunkRetentionSize: 32,
		ChunkRetentionTime: time.Hour,
		FlushQueueCapacity: 8,
		MaxBufferSize:      datasize.ByteSize(testMaxBufferSize),
		BackupRootPath:     backupRoot,
		Upstream:           fluentdforward.Config{Address: "127.0.0.1:0"},
	}
}

func newTestBuffer(t *testing.T, transporter base.Transporter, backupRoot string) *Buffer {
	t.Helper()
	mf := base.NewMetricFactory("testbuffer_"+t.Name()+"_", nil, nil)
	buf, err := New(logger.Root(), newTestConfig(t, backupRoot), encoder.New(128), transporter, mf)
	require.NoError(t, err)
	return buf
}

func TestBufferAppendFlushesOnRetentionSize(t *testing.T) {
	transporter := &recordingTransporter{}
	buf := newTestBuffer(t, transporter, t.TempDir())
	require.NoError(t, buf.Init(context.Background()))
	buf.Start(context.Background(), 10*time.Millisecond)
	defer buf.Close(context.Background())

	payload := map[string]interface{}{"msg": string(make([]byte, 40))}
	require.NoError(t, buf.Append(context.Background(), "app.log", base.NewUnixTimestamp(1), payload))

	require.Eventually(t, func() bool {
		return len(transporter.sentTags()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"app.log"}, transporter.sentTags())
}

func TestBufferCloseSealsAndPersistsUndeliveredChunks(t *testing.T) {
	backupRoot := t.TempDir()
	transporter := &recordingTransporter{fail: true}
	buf := newTestBuffer(t, transporter, backupRoot)
	require.NoError(t, buf.Init(context.Background()))
	buf.Start(context.Background(), time.Hour) // sweeper won't fire on its own

	require.NoError(t, buf.Append(context.Background(), "app.log", base.NewUnixTimestamp(1), map[string]interface{}{"a": 1}))
	require.Error(t, buf.Close(context.Background()), "Close must propagate the delivery failure rather than swallow it")

	assert.Empty(t, transporter.sentTags(), "delivery was configured to fail")

	mf2 := base.NewMetricFactory("testbuffer_replay_"+t.Name()+"_", nil, nil)
	successTransporter := &recordingTransporter{}
	buf2, err := New(logger.Root(), newTestConfig(t, backupRoot), encoder.New(128), successTransporter, mf2)
	require.NoError(t, err)
	require.NoError(t, buf2.Init(context.Background()))
	buf2.Start(context.Background(), 10*time.Millisecond)
	defer buf2.Close(context.Background())

	require.Eventually(t, func() bool {
		return len(successTransporter.sentTags()) == 1
	}, time.Second, 5*time.Millisecond, "replayed chunk from prior shutdown must be delivered")
}

func TestBufferFlushLeavesLaterChunksQueuedOnMidBatchFailure(t *testing.T) {
	transporter := &recordingTransporter{fail: true}
	buf := newTestBuffer(t, transporter, t.TempDir())
	require.NoError(t, buf.Init(context.Background()))
	// no Start: the background driver must not race Flush for this queue's chunks

	payload := map[string]interface{}{"msg": string(make([]byte, 40))} // exceeds ChunkRetentionSize=32, seals immediately
	require.NoError(t, buf.Append(context.Background(), "a", base.NewUnixTimestamp(1), payload))
	require.NoError(t, buf.Append(context.Background(), "b", base.NewUnixTimestamp(2), payload))
	require.Equal(t, 2, buf.flush.Len(), "both appends must have sealed straight onto the flush queue")

	require.Error(t, buf.Flush(context.Background(), false), "delivery was configured to fail")

	assert.Empty(t, transporter.sentTags())
	assert.Equal(t, 2, buf.flush.Len(),
		"the chunk behind the failed one must still be queued, not silently dropped; the failed chunk itself must be requeued rather than lost")
}

func TestBufferIntrospection(t *testing.T) {
	transporter := &recordingTransporter{}
	buf := newTestBuffer(t, transporter, t.TempDir())
	require.NoError(t, buf.Init(context.Background()))

	assert.Zero(t, buf.AllocatedSize())
	require.NoError(t, buf.Append(context.Background(), "t", base.NewUnixTimestamp(1), map[string]interface{}{"a": 1}))
	assert.NotZero(t, buf.AllocatedSize())
	assert.NotZero(t, buf.BufferedDataSize())
	assert.Equal(t, int64(testMaxBufferSize), buf.MaxBufferSize())
}
