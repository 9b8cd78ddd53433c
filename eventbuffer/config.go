package eventbuffer

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/eventbuf/bufferpool"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/eventbuf/transport/fluentdforward"
)

// Config defines the tunables of a Buffer: pool ceiling, chunk growth/retention thresholds, queue
// capacity and on-disk backup location. Byte-size fields accept human units ("512MB") via
// datasize.ByteSize, the same convention the ambient buffer configuration in this codebase's
// teacher lineage uses for its own maxBufSize field.
type Config struct {
	MaxBufferSize      datasize.ByteSize     `yaml:"maxBufferSize"`
	ChunkInitialSize   datasize.ByteSize     `yaml:"chunkInitialSize"`
	ChunkExpandRatio   float64               `yaml:"chunkExpandRatio"`
	ChunkRetentionSize datasize.ByteSize     `yaml:"chunkRetentionSize"`
	ChunkRetentionTime time.Duration         `yaml:"chunkRetentionTime"`
	FlushInterval      time.Duration         `yaml:"flushInterval"`
	FlushQueueCapacity int                   `yaml:"flushQueueCapacity"`
	StorageMode        string                `yaml:"storageMode"` // "heap" or "direct"
	BackupRootPath     string                `yaml:"backupRootPath"`
	FileBackupPrefix   string                `yaml:"fileBackupPrefix"`
	Upstream           fluentdforward.Config `yaml:"upstream"`
}

// VerifyConfig applies defaults for zero-valued fields and rejects invalid combinations
func (cfg *Config) VerifyConfig() error {
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = datasize.ByteSize(defs.DefaultMaxBufferSize)
	}
	if cfg.ChunkInitialSize == 0 {
		cfg.ChunkInitialSize = datasize.ByteSize(defs.DefaultChunkInitialSize)
	}
	if cfg.ChunkExpandRatio == 0 {
		cfg.ChunkExpandRatio = defs.DefaultChunkExpandRatio
	} else if cfg.ChunkExpandRatio <= 1 {
		return fmt.Errorf(".chunkExpandRatio must be > 1, got %v", cfg.ChunkExpandRatio)
	}
	if cfg.ChunkRetentionSize == 0 {
		cfg.ChunkRetentionSize = datasize.ByteSize(defs.DefaultChunkRetentionSize)
	}
	if cfg.ChunkRetentionTime == 0 {
		cfg.ChunkRetentionTime = defs.DefaultChunkRetentionTime
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defs.DefaultChunkRetentionTime
	}
	if cfg.FlushQueueCapacity == 0 {
		cfg.FlushQueueCapacity = defs.DefaultFlushQueueCapacity
	}
	if cfg.BackupRootPath == "" {
		return fmt.Errorf(".backupRootPath is unspecified")
	}
	cfg.BackupRootPath = os.ExpandEnv(cfg.BackupRootPath)
	if err := cfg.Upstream.VerifyConfig(); err != nil {
		return fmt.Errorf(".upstream: %w", err)
	}
	return nil
}

// storageMode resolves the configured storage mode string to a bufferpool.Mode, defaulting to heap
func (cfg *Config) storageMode() bufferpool.Mode {
	if cfg.StorageMode == defs.StorageModeDirect {
		return bufferpool.ModeDirect
	}
	return bufferpool.ModeHeap
}
