package bufferpool

import (
	"github.com/relex/eventbuf/base"
	promexporter "github.com/relex/gotils/promexporter/promext"
)

type poolMetrics struct {
	allocatedBytes  promexporter.RWGauge
	acquireFailures promexporter.RWCounter
}

func newPoolMetrics(metricFactory *base.MetricFactory) poolMetrics {
	return poolMetrics{
		allocatedBytes:  metricFactory.AddOrGetGauge("pool_allocated_bytes", "Outstanding plus cached pool capacity in bytes", nil, nil),
		acquireFailures: metricFactory.AddOrGetCounter("pool_acquire_failures_total", "Numbers of Acquire calls refused due to the byte ceiling", nil, nil),
	}
}
