package main

const (
	helpTextUse = "zipvfs"

	helpTextShort = "a mutable filesystem over ZIP archives"

	helpTextLong = `zipvfs serves a ZIP archive as a mutable filesystem. Entries are extracted
into a cache when first modified, and the archive is rewritten on sync - all
unmodified entries are copied over verbatim, without recompressing them.

Every subcommand opens the archive, applies its change and rewrites it. The
mount subcommand serves the archive as FUSE filesystem instead, rewriting
the archive when unmounted (or when receiving SIGHUP).

All settings can also be given as environment variables:
- ZIPVFS_CACHE_DIR, ZIPVFS_READ_ONLY, ZIPVFS_FORCE_STORE_DIRS
- ZIPVFS_COMPRESSION_LEVEL, ZIPVFS_STORE_INCOMPRESSIBLE, ZIPVFS_MUST_CRC32
- ZIPVFS_BIND (comma-separated), ZIPVFS_WEBSERVER, ZIPVFS_RING_BUFFER_SIZE
- ZIPVFS_ATTR_CACHE_SIZE, ZIPVFS_ATTR_CACHE_TTL`

	helpTextMountLong = `Mounts the archive as a FUSE filesystem at the mountpoint.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGHUP for rewriting the archive (when no files are open)
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard metrics as JSON
- "/metrics" for the metrics in the Prometheus format
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/sync" for rewriting the archive (when no files are open)
- "/set/must-crc32/<bool>" for adapting forced integrity checking
- "/set/sync-on-destroy/<bool>" for adapting the rewrite on unmount`
)
