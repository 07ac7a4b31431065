//nolint:mnd
package webserver

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// zipMetrics is the sum of the metrics of all mounted archives.
type zipMetrics struct {
	extracts        int64
	extractBytes    int64
	extractTime     int64
	syncs           int64
	syncTime        int64
	rawCopyBytes    int64
	recompressBytes int64
	reopened        int64
}

// zipMetrics returns the summed metrics of all mounted archives.
func (d *FSDashboard) zipMetrics() zipMetrics {
	var zm zipMetrics

	for _, a := range d.archives() {
		m := a.fsys.Metrics
		zm.extracts += m.TotalExtractCount.Load()
		zm.extractBytes += m.TotalExtractBytes.Load()
		zm.extractTime += m.TotalExtractTime.Load()
		zm.syncs += m.TotalSyncCount.Load()
		zm.syncTime += m.TotalSyncTime.Load()
		zm.rawCopyBytes += m.TotalRawCopyBytes.Load()
		zm.recompressBytes += m.TotalRecompressBytes.Load()
		zm.reopened += m.TotalReopenedEntries.Load()
	}

	return zm
}

// mustCRC32 returns true if any mounted archive verifies stored entries.
func (d *FSDashboard) mustCRC32() bool {
	for _, a := range d.archives() {
		if a.fsys.Options.MustCRC32.Load() {
			return true
		}
	}

	return false
}

// average returns a string of the average duration of count operations.
func average(ns, count int64) string {
	return time.Duration(ns / max(1, count)).String()
}

// speed returns a string of the throughput of bytes over ns.
func speed(bytes, ns int64) string {
	if ns <= 0 {
		return "0 B/s"
	}

	bps := float64(bytes) / (float64(ns) / 1e9)

	return humanize.IBytes(uint64(max(bps, 0))) + "/s"
}

// ratio returns a string of the hit/miss ratio.
func ratio(hits, misses uint64) string {
	total := hits + misses

	if total == 0 {
		return "0.00%"
	}

	perc := (float64(hits) / float64(total)) * 100

	return fmt.Sprintf("%.2f%%", perc)
}

// bytesOf returns a string of a byte counter.
func bytesOf(bytes int64) string {
	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}
