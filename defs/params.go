package defs

import (
	"os"
	"time"
)

var (
	// DefaultMaxBufferSize is the default global ceiling on outstanding pool capacity (512 MiB)
	DefaultMaxBufferSize int64 = 512 * 1024 * 1024

	// DefaultChunkInitialSize is the default capacity of the first chunk allocated for a new tag (1 MiB)
	DefaultChunkInitialSize int64 = 1 * 1024 * 1024

	// DefaultChunkExpandRatio is the default growth factor applied when a chunk must be replaced by a larger one
	DefaultChunkExpandRatio = 2.0

	// DefaultChunkRetentionSize is the default size-based seal threshold (4 MiB)
	DefaultChunkRetentionSize int64 = 4 * 1024 * 1024

	// DefaultChunkRetentionTime is the default age-based seal threshold
	DefaultChunkRetentionTime = 1000 * time.Millisecond

	// DefaultFlushQueueCapacity bounds the primary FlushQueue; sealing blocks once it is full
	DefaultFlushQueueCapacity = 1024

	// BackupFilePrefix is the default filename prefix for on-disk backup files, when Config.FileBackupPrefix is empty
	BackupFilePrefix = "buffer"

	// BackupDirPermission is the permission used when creating the backup root and per-tag directories
	BackupDirPermission os.FileMode = 0o755

	// BackupFilePermission is the permission used when writing backup files
	BackupFilePermission os.FileMode = 0o644

	// QueueDirHashLength is the number of hex characters of the tag hash appended to sanitized backup subdir names
	QueueDirHashLength = 8

	// DefaultEncodeBufferHint is the initial capacity hint given to the record encoder's internal buffer
	DefaultEncodeBufferHint = 512

	// FlushRetryBackoff is the delay the flush driver waits before re-enqueueing a chunk whose
	// delivery just failed, so a persistently down transporter cannot spin the flush loop
	FlushRetryBackoff = 200 * time.Millisecond
)

var (
	// ForwarderConnectionTimeout is for establishing a TCP connection to upstream
	ForwarderConnectionTimeout = 60 * time.Second

	// ForwarderHandshakeTimeout is for the Forward protocol handshake with upstream
	ForwarderHandshakeTimeout = ForwarderConnectionTimeout + ForwarderConnectionTimeout/2

	// ForwarderBatchSendTimeoutBase is how long to wait at least for sending one batch
	ForwarderBatchSendTimeoutBase = ForwarderConnectionTimeout + ForwarderConnectionTimeout/2

	// ForwarderRetryInterval is how long to wait after a connection is interrupted
	ForwarderRetryInterval = 10 * time.Second
)

// EnableTestMode turns on test mode with very short timeouts and minimal retry delay
func EnableTestMode() {
	ForwarderConnectionTimeout = 1 * time.Second
	ForwarderHandshakeTimeout = 2 * time.Second
	ForwarderBatchSendTimeoutBase = 3 * time.Second
	ForwarderRetryInterval = 100 * time.Millisecond
}
