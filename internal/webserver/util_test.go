package webserver

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: average should divide and survive a zero count.
func Test_average_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "100ms", average(1_000_000_000, 10))
	require.Equal(t, "1µs", average(1000, 0))
}

// Expectation: speed should calculate bytes per second correctly.
func Test_speed_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.0 MiB/s", speed(2*1024*1024, 2_000_000_000))
	require.Equal(t, "0 B/s", speed(1000, 0))
}

// Expectation: ratio should return a formatted percentage.
func Test_ratio_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "75.00%", ratio(3, 1))
	require.Equal(t, "0.00%", ratio(0, 0))
	require.Equal(t, "100.00%", ratio(5, 0))
}

// Expectation: bytesOf should humanize and clamp negative counters.
func Test_bytesOf_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2.0 KiB", bytesOf(2048))
	require.Equal(t, "0 B", bytesOf(-5))
}

// Expectation: enabledOrDisabled should map booleans.
func Test_enabledOrDisabled_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Enabled", enabledOrDisabled(true))
	require.Equal(t, "Disabled", enabledOrDisabled(false))
}

// Expectation: zipMetrics should sum up the metrics of mounted archives.
func Test_FSDashboard_zipMetrics_Success(t *testing.T) {
	t.Parallel()
	env := testDashboard(t, io.Discard)

	env.zip.Metrics.TotalExtractCount.Store(3)
	env.zip.Metrics.TotalExtractBytes.Store(300)
	env.zip.Metrics.TotalRawCopyBytes.Store(10)

	zm := env.dash.zipMetrics()
	require.Equal(t, int64(3), zm.extracts)
	require.Equal(t, int64(300), zm.extractBytes)
	require.Equal(t, int64(10), zm.rawCopyBytes)
	require.Zero(t, zm.syncs)
}

// Expectation: mustCRC32 should report if any archive verifies stored entries.
func Test_FSDashboard_mustCRC32_Success(t *testing.T) {
	t.Parallel()
	env := testDashboard(t, io.Discard)

	env.zip.Options.MustCRC32.Store(false)
	require.False(t, env.dash.mustCRC32())

	env.zip.Options.MustCRC32.Store(true)
	require.True(t, env.dash.mustCRC32())
}
