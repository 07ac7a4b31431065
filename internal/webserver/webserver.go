// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"text/template"

	"github.com/desertwitch/zipvfs/internal/fusefs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/rootfs"
	"github.com/desertwitch/zipvfs/internal/subvfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version  string
	fsys     *fusefs.FS
	rbuf     *logging.RingBuffer
	registry *prometheus.Registry
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
func NewFSDashboard(fsys *fusefs.FS, rbuf *logging.RingBuffer, version string) (*FSDashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	d := &FSDashboard{
		version:  version,
		fsys:     fsys,
		rbuf:     rbuf,
		registry: prometheus.NewRegistry(),
	}

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		newFSCollector(d),
	)

	return d, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux()} //nolint:gosec

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)
	mux.HandleFunc("/sync", d.syncHandler)

	mux.HandleFunc("/set/must-crc32/{value}",
		d.booleanHandler("Forced integrity checking", d.setMustCRC32))
	mux.HandleFunc("/set/sync-on-destroy/{value}",
		d.booleanHandler("Sync on unmount", d.fsys.Options.SyncOnDestroy.Store))

	return mux
}

// archive is a [zipfs.FS] mounted into the namespace.
type archive struct {
	path string
	fsys *zipfs.FS
}

// archives returns all [zipfs.FS] mounted into the namespace, directly
// or through a [subvfs.FS].
func (d *FSDashboard) archives() []archive {
	var out []archive

	for _, m := range d.fsys.Namespace().MountedFS() {
		if zfs, ok := archiveOf(m.FS); ok {
			out = append(out, archive{path: m.Path(), fsys: zfs})
		}
	}

	return out
}

func archiveOf(backend vfs.FS) (*zipfs.FS, bool) {
	if sfs, ok := backend.(*subvfs.FS); ok {
		backend = sfs.Parent()
	}
	zfs, ok := backend.(*zipfs.FS)

	return zfs, ok
}

func (d *FSDashboard) setMustCRC32(v bool) {
	for _, a := range d.archives() {
		a.fsys.Options.MustCRC32.Store(v)
	}
}

type fsMountData struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Entries  int    `json:"entries"`
	ReadOnly string `json:"readOnly"`
	Comment  string `json:"comment"`
}

type fsDashboardData struct {
	AllocBytes           string        `json:"allocBytes"`
	AttrCacheHits        uint64        `json:"attrCacheHits"`
	AttrCacheMisses      uint64        `json:"attrCacheMisses"`
	AttrCacheRatio       string        `json:"attrCacheRatio"`
	AttrCacheSize        uint64        `json:"attrCacheSize"`
	AttrCacheTTL         string        `json:"attrCacheTtl"`
	AvgExtractSpeed      string        `json:"avgExtractSpeed"`
	AvgExtractTime       string        `json:"avgExtractTime"`
	AvgSyncTime          string        `json:"avgSyncTime"`
	Logs                 []string      `json:"logs"`
	Mounts               []fsMountData `json:"mounts"`
	MustCRC32            string        `json:"mustCrc32"`
	NumGC                uint32        `json:"numGc"`
	OpenHandles          int64         `json:"openHandles"`
	ReadOnly             string        `json:"readOnly"`
	RingBufferSize       int           `json:"ringBufferSize"`
	SyncOnDestroy        string        `json:"syncOnDestroy"`
	SysBytes             string        `json:"sysBytes"`
	TotalAlloc           string        `json:"totalAlloc"`
	TotalErrors          int64         `json:"totalErrors"`
	TotalExtractBytes    string        `json:"totalExtractBytes"`
	TotalExtracts        int64         `json:"totalExtracts"`
	TotalRawCopyBytes    string        `json:"totalRawCopyBytes"`
	TotalReadBytes       string        `json:"totalReadBytes"`
	TotalRecompressBytes string        `json:"totalRecompressBytes"`
	TotalReopened        int64         `json:"totalReopened"`
	TotalSyncs           int64         `json:"totalSyncs"`
	TotalWrittenBytes    string        `json:"totalWrittenBytes"`
	Uptime               string        `json:"uptime"`
	Version              string        `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	zm := d.zipMetrics()
	cm := d.fsys.AttrCacheMetrics()

	return fsDashboardData{
		AllocBytes:           humanize.IBytes(m.Alloc),
		AttrCacheHits:        cm.Hits,
		AttrCacheMisses:      cm.Misses,
		AttrCacheRatio:       ratio(cm.Hits, cm.Misses),
		AttrCacheSize:        d.fsys.Options.AttrCacheSize,
		AttrCacheTTL:         d.fsys.Options.AttrCacheTTL.String(),
		AvgExtractSpeed:      speed(zm.extractBytes, zm.extractTime),
		AvgExtractTime:       average(zm.extractTime, zm.extracts),
		AvgSyncTime:          average(zm.syncTime, zm.syncs),
		Logs:                 lines,
		Mounts:               d.mounts(),
		MustCRC32:            enabledOrDisabled(d.mustCRC32()),
		NumGC:                m.NumGC,
		OpenHandles:          d.fsys.Metrics.OpenHandles.Load(),
		ReadOnly:             enabledOrDisabled(d.fsys.Options.ReadOnly),
		RingBufferSize:       d.rbuf.Size(),
		SyncOnDestroy:        enabledOrDisabled(d.fsys.Options.SyncOnDestroy.Load()),
		SysBytes:             humanize.IBytes(m.Sys),
		TotalAlloc:           humanize.IBytes(m.TotalAlloc),
		TotalErrors:          d.fsys.Metrics.Errors.Load(),
		TotalExtractBytes:    bytesOf(zm.extractBytes),
		TotalExtracts:        zm.extracts,
		TotalRawCopyBytes:    bytesOf(zm.rawCopyBytes),
		TotalReadBytes:       bytesOf(d.fsys.Metrics.TotalReadBytes.Load()),
		TotalRecompressBytes: bytesOf(zm.recompressBytes),
		TotalReopened:        zm.reopened,
		TotalSyncs:           zm.syncs,
		TotalWrittenBytes:    bytesOf(d.fsys.Metrics.TotalWrittenBytes.Load()),
		Uptime:               humanize.Time(d.fsys.MountTime),
		Version:              d.version,
	}
}

// mounts lists the mount table, holding off requests since the
// backends are not safe for concurrent use.
func (d *FSDashboard) mounts() []fsMountData {
	var out []fsMountData

	_ = d.fsys.Exclusive(func(root *rootfs.FS) error {
		for _, m := range root.MountedFS() {
			md := fsMountData{
				Path:     m.Path(),
				Kind:     "directory",
				ReadOnly: enabledOrDisabled(false),
			}
			if zfs, ok := archiveOf(m.FS); ok {
				md.Kind = "archive"
				md.Entries = zfs.Len()
				md.ReadOnly = enabledOrDisabled(zfs.ReadOnly())
				md.Comment = zfs.Comment()
			}
			out = append(out, md)
		}

		return nil
	})

	return out
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	d.fsys.Metrics.Errors.Store(0)
	d.fsys.Metrics.TotalReadBytes.Store(0)
	d.fsys.Metrics.TotalWrittenBytes.Store(0)
	d.fsys.Metrics.TotalSyncCount.Store(0)

	for _, a := range d.archives() {
		a.fsys.Metrics.TotalExtractCount.Store(0)
		a.fsys.Metrics.TotalExtractBytes.Store(0)
		a.fsys.Metrics.TotalExtractTime.Store(0)
		a.fsys.Metrics.TotalSyncCount.Store(0)
		a.fsys.Metrics.TotalSyncTime.Store(0)
		a.fsys.Metrics.TotalRawCopyBytes.Store(0)
		a.fsys.Metrics.TotalRecompressBytes.Store(0)
		a.fsys.Metrics.TotalReopenedEntries.Store(0)
	}

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) syncHandler(w http.ResponseWriter, _ *http.Request) {
	if err := d.fsys.Sync(); err != nil {
		d.rbuf.Printf("Sync via API failed: %v\n", err)

		status := http.StatusInternalServerError
		if vfs.CodeOf(err) == vfs.ErrFileBusy {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("Sync failed: %v", err), status)

		return
	}

	d.rbuf.Println("Sync via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Synced.")
}

func (d *FSDashboard) booleanHandler(desc string, set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		set(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
