package bufferpool

import (
	"sync"

	"github.com/relex/eventbuf/base"
)

// classBucket is a freelist of regions all of the same capacity class. It is protected by its own
// mutex rather than being lock-free internally; the xsync.Map in Pool avoids contention on the
// class -> bucket lookup itself, which is the hot path shared across all tags.
type classBucket struct {
	mu      sync.Mutex
	regions []*base.Region
}

func newClassBucket() *classBucket {
	return &classBucket{}
}

func (b *classBucket) push(region *base.Region) {
	b.mu.Lock()
	b.regions = append(b.regions, region)
	b.mu.Unlock()
}

func (b *classBucket) pop() (*base.Region, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.regions)
	if n == 0 {
		return nil, false
	}
	region := b.regions[n-1]
	b.regions[n-1] = nil
	b.regions = b.regions[:n-1]
	return region, true
}

func (b *classBucket) drain(mode Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, region := range b.regions {
		free(mode, region.Data)
	}
	b.regions = nil
}
