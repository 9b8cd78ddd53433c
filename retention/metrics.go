package retention

import (
	"github.com/relex/eventbuf/base"
	promexporter "github.com/relex/gotils/promexporter/promext"
)

type mapMetrics struct {
	activeTags     promexporter.RWGauge
	retainedBytes  promexporter.RWCounter
	growthsTotal   promexporter.RWCounter
	growthFailures promexporter.RWCounter
	sealsTotal     promexporter.RWCounter
}

func newMapMetrics(metricFactory *base.MetricFactory) mapMetrics {
	return mapMetrics{
		activeTags:     metricFactory.AddOrGetGauge("retention_active_tags", "Numbers of tags with a live writable chunk", nil, nil),
		retainedBytes:  metricFactory.AddOrGetCounter("retention_written_bytes_total", "Total bytes committed into retention chunks", nil, nil),
		growthsTotal:   metricFactory.AddOrGetCounter("retention_growths_total", "Numbers of chunk growth (replace-and-copy) events", nil, nil),
		growthFailures: metricFactory.AddOrGetCounter("retention_growth_failures_total", "Numbers of growth or allocation attempts refused by the pool ceiling", nil, nil),
		sealsTotal:     metricFactory.AddOrGetCounter("retention_seals_total", "Numbers of chunks sealed and handed off", nil, nil),
	}
}
