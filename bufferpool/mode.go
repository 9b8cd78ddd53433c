package bufferpool

import (
	"github.com/relex/gotils/logger"
	"golang.org/x/sys/unix"
)

// allocate returns a zeroed byte slice of exactly capacity bytes, backed by managed (heap) memory
// or by anonymous mmap'd memory (direct), per mode.
func allocate(mode Mode, capacity int) []byte {
	if mode == ModeDirect {
		data, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			logger.Panicf("bufferpool: mmap failed for %d bytes: %s", capacity, err.Error())
		}
		return data
	}
	return make([]byte, capacity)
}

// free releases memory obtained from allocate; a no-op for heap regions, which the GC reclaims.
func free(mode Mode, data []byte) {
	if mode == ModeDirect && len(data) > 0 {
		if err := unix.Munmap(data); err != nil {
			logger.Errorf("bufferpool: munmap failed: %s", err.Error())
		}
	}
}
