package webserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "zipvfs"

var _ prometheus.Collector = (*fsCollector)(nil)

// fsCollector exports the filesystem metrics in the Prometheus format.
// Archive metrics are labeled with the mount point of their archive.
type fsCollector struct {
	d *FSDashboard

	errors            *prometheus.Desc
	openHandles       *prometheus.Desc
	readBytes         *prometheus.Desc
	writtenBytes      *prometheus.Desc
	attrCacheHits     *prometheus.Desc
	attrCacheMisses   *prometheus.Desc
	extracts          *prometheus.Desc
	extractBytes      *prometheus.Desc
	extractSeconds    *prometheus.Desc
	syncs             *prometheus.Desc
	syncSeconds       *prometheus.Desc
	rawCopyBytes      *prometheus.Desc
	recompressBytes   *prometheus.Desc
	reopenedEntries   *prometheus.Desc
	logRingBufferSize *prometheus.Desc
}

func newFSCollector(d *FSDashboard) *fsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}

	return &fsCollector{
		d: d,

		errors:            desc("fuse_errors_total", "Failed kernel requests."),
		openHandles:       desc("fuse_open_handles", "Currently open file handles."),
		readBytes:         desc("fuse_read_bytes_total", "Bytes served to the kernel."),
		writtenBytes:      desc("fuse_written_bytes_total", "Bytes received from the kernel."),
		attrCacheHits:     desc("fuse_attr_cache_hits_total", "Attribute cache hits."),
		attrCacheMisses:   desc("fuse_attr_cache_misses_total", "Attribute cache misses."),
		extracts:          desc("archive_extracts_total", "Entries extracted into the cache.", "mount"),
		extractBytes:      desc("archive_extract_bytes_total", "Bytes extracted into the cache.", "mount"),
		extractSeconds:    desc("archive_extract_seconds_total", "Time spent extracting entries.", "mount"),
		syncs:             desc("archive_syncs_total", "Archive rewrites.", "mount"),
		syncSeconds:       desc("archive_sync_seconds_total", "Time spent rewriting archives.", "mount"),
		rawCopyBytes:      desc("archive_raw_copy_bytes_total", "Compressed bytes copied verbatim on sync.", "mount"),
		recompressBytes:   desc("archive_recompress_bytes_total", "Bytes recompressed on sync.", "mount"),
		reopenedEntries:   desc("archive_reopened_entries_total", "Decompression restarts of entries.", "mount"),
		logRingBufferSize: desc("log_ring_buffer_size", "Capacity of the event log."),
	}
}

func (c *fsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.errors, c.openHandles, c.readBytes, c.writtenBytes,
		c.attrCacheHits, c.attrCacheMisses,
		c.extracts, c.extractBytes, c.extractSeconds,
		c.syncs, c.syncSeconds,
		c.rawCopyBytes, c.recompressBytes, c.reopenedEntries,
		c.logRingBufferSize,
	} {
		ch <- d
	}
}

func (c *fsCollector) Collect(ch chan<- prometheus.Metric) {
	fm := c.d.fsys.Metrics
	cm := c.d.fsys.AttrCacheMetrics()

	counter := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, labels...)
	}

	counter(c.errors, float64(fm.Errors.Load()))
	ch <- prometheus.MustNewConstMetric(c.openHandles, prometheus.GaugeValue, float64(fm.OpenHandles.Load()))
	counter(c.readBytes, float64(fm.TotalReadBytes.Load()))
	counter(c.writtenBytes, float64(fm.TotalWrittenBytes.Load()))
	counter(c.attrCacheHits, float64(cm.Hits))
	counter(c.attrCacheMisses, float64(cm.Misses))

	for _, a := range c.d.archives() {
		m := a.fsys.Metrics
		counter(c.extracts, float64(m.TotalExtractCount.Load()), a.path)
		counter(c.extractBytes, float64(m.TotalExtractBytes.Load()), a.path)
		counter(c.extractSeconds, float64(m.TotalExtractTime.Load())/1e9, a.path) //nolint:mnd
		counter(c.syncs, float64(m.TotalSyncCount.Load()), a.path)
		counter(c.syncSeconds, float64(m.TotalSyncTime.Load())/1e9, a.path) //nolint:mnd
		counter(c.rawCopyBytes, float64(m.TotalRawCopyBytes.Load()), a.path)
		counter(c.recompressBytes, float64(m.TotalRecompressBytes.Load()), a.path)
		counter(c.reopenedEntries, float64(m.TotalReopenedEntries.Load()), a.path)
	}

	ch <- prometheus.MustNewConstMetric(c.logRingBufferSize, prometheus.GaugeValue, float64(c.d.rbuf.Size()))
}
