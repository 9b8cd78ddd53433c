package bufferpool

import (
	"sync"
	"testing"

	"github.com/relex/eventbuf/base"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"
)

func TestPoolAcquireRelease(t *testing.T) {
	mf := base.NewMetricFactory("testpool_", nil, nil)
	pool := New(logger.Root(), ModeHeap, 1024, mf)

	r1 := pool.Acquire(100)
	if assert.NotNil(t, r1) {
		assert.Equal(t, 128, r1.Capacity())
	}
	assert.Equal(t, int64(128), pool.AllocatedSize())

	pool.Release(r1)
	assert.Equal(t, int64(128), pool.AllocatedSize(), "release does not decrement allocated")

	r2 := pool.Acquire(100)
	if assert.NotNil(t, r2) {
		assert.Same(t, r1, r2, "exact class match should be reused from freelist")
	}
	assert.Equal(t, int64(128), pool.AllocatedSize())
}

func TestPoolCeilingExhaustion(t *testing.T) {
	mf := base.NewMetricFactory("testpool_ceiling_", nil, nil)
	pool := New(logger.Root(), ModeHeap, 200, mf)

	r1 := pool.Acquire(128)
	assert.NotNil(t, r1)
	assert.Equal(t, int64(128), pool.AllocatedSize())

	r2 := pool.Acquire(128) // would need another 128 bytes, exceeding ceiling of 200
	assert.Nil(t, r2)
	assert.Equal(t, int64(128), pool.AllocatedSize(), "failed acquire must not mutate accounting")
}

func TestPoolReleaseAll(t *testing.T) {
	mf := base.NewMetricFactory("testpool_releaseall_", nil, nil)
	pool := New(logger.Root(), ModeHeap, 4096, mf)

	r1 := pool.Acquire(64)
	pool.Release(r1)
	assert.NotZero(t, pool.AllocatedSize())

	pool.ReleaseAll()
	assert.Zero(t, pool.AllocatedSize())

	r2 := pool.Acquire(64)
	assert.NotNil(t, r2, "pool must be usable again after ReleaseAll")
}

func TestPoolConcurrentAcquireRelease(t *testing.T) {
	mf := base.NewMetricFactory("testpool_concurrent_", nil, nil)
	pool := New(logger.Root(), ModeHeap, 1<<20, mf)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				region := pool.Acquire(256)
				if region != nil {
					pool.Release(region)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.AllocatedSize(), int64(1<<20))
}

func TestPoolDirectMode(t *testing.T) {
	mf := base.NewMetricFactory("testpool_direct_", nil, nil)
	pool := New(logger.Root(), ModeDirect, 1<<20, mf)
	assert.Equal(t, ModeDirect, pool.Mode())

	region := pool.Acquire(512)
	if assert.NotNil(t, region) {
		copy(region.Data, []byte("hello"))
		assert.Equal(t, "hello", string(region.Data[:5]))
	}
	pool.Release(region)
	pool.ReleaseAll()
}
