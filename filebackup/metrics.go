package filebackup

import (
	"github.com/relex/eventbuf/base"
	promexporter "github.com/relex/gotils/promexporter/promext"
)

type storeMetrics struct {
	savedFiles    promexporter.RWGauge
	savedBytes    promexporter.RWCounter
	ioErrorsTotal promexporter.RWCounter
}

func newStoreMetrics(metricFactory *base.MetricFactory) storeMetrics {
	return storeMetrics{
		savedFiles:    metricFactory.AddOrGetGauge("filebackup_saved_files", "Numbers of backup files currently on disk", nil, nil),
		savedBytes:    metricFactory.AddOrGetCounter("filebackup_saved_bytes_total", "Total bytes ever written to backup files", nil, nil),
		ioErrorsTotal: metricFactory.AddOrGetCounter("filebackup_io_errors_total", "Numbers of I/O errors encountered by the backup store", nil, nil),
	}
}
