// Package zipfs implements a mutable filesystem backed by a ZIP container.
//
// The central directory is parsed once into an in-memory index, which
// answers all metadata queries without touching the archive. Reading an
// unmodified entry inflates its compressed bytes on the fly, straight from
// the container. Mutating an entry first extracts it into a cache backend,
// where it stays until the next [FS.Sync] rewrites the whole container.
// Unmodified entries are always copied verbatim during that rewrite.
package zipfs

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/klauspost/compress/flate"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	defaultCompressionLevel    = flate.DefaultCompression
	defaultForceStoreDirs      = false
	defaultMustCRC32           = false
	defaultStoreIncompressible = false
)

var (
	_ vfs.FS = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified once the [FS] exists.
type Options struct {
	// ReadOnly refuses all mutation and turns [FS.Sync] into a no-op.
	// It is implied for containers opened without a write view.
	ReadOnly bool

	// Cache is the backend extracted entries are materialized into.
	// Without a cache, entries can not be written or truncated.
	Cache vfs.FS

	// CacheDir is the directory within Cache to materialize into.
	CacheDir string

	// ForceStoreDirs controls if directories that only exist implicitly,
	// as parents of other entries, are written as explicit records.
	// Without it, an implicit directory left empty vanishes on [FS.Sync].
	ForceStoreDirs bool

	// CompressionLevel is the DEFLATE level modified entries are
	// recompressed with on [FS.Sync].
	CompressionLevel int

	// StoreIncompressible stores modified entries uncompressed on [FS.Sync]
	// when their content is detected as an already compressed format.
	StoreIncompressible bool

	// MustCRC32 controls if uncompressed entries must still run through
	// the integrity verification algorithm (CRC32) when read.
	MustCRC32 atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		ForceStoreDirs:      defaultForceStoreDirs,
		CompressionLevel:    defaultCompressionLevel,
		StoreIncompressible: defaultStoreIncompressible,
	}
	opts.MustCRC32.Store(defaultMustCRC32)

	return opts
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// TotalExtractCount is the amount of entries extracted into the cache.
	TotalExtractCount atomic.Int64

	// TotalExtractBytes is the amount of bytes extracted into the cache.
	TotalExtractBytes atomic.Int64

	// TotalExtractTime is time spent extracting entries into the cache.
	TotalExtractTime atomic.Int64

	// TotalSyncCount is the amount of container rewrites.
	TotalSyncCount atomic.Int64

	// TotalSyncTime is time spent rewriting the container.
	TotalSyncTime atomic.Int64

	// TotalRawCopyBytes is the amount of compressed bytes copied verbatim.
	TotalRawCopyBytes atomic.Int64

	// TotalRecompressBytes is the amount of uncompressed bytes recompressed.
	TotalRecompressBytes atomic.Int64

	// TotalReopenedEntries is the amount of inflate restarts (rewinds).
	TotalReopenedEntries atomic.Int64
}

// FS is a [vfs.FS] over a ZIP container. It is not safe for concurrent use.
type FS struct {
	vfs.Attachment

	Options *Options
	Metrics *Metrics

	container *vfs.Handle
	owned     bool
	readOnly  bool

	index   *index
	comment string
}

// New returns a pointer to a new [FS] over the container, which must be
// bound to a read view and, for a writable [FS], to a write view.
//
// The container is parsed completely. A corrupt container is a fatal
// [vfs.ErrData] and leaves no usable [FS] behind.
func New(container *vfs.Handle, opts *Options) (*FS, error) {
	if container == nil {
		return nil, fmt.Errorf("%w: need a container", errMissingArgument)
	}
	if container.ReadView == nil {
		return nil, vfs.WrapError(vfs.OpLoad, "", vfs.ErrUnsupportedInterface,
			fmt.Errorf("%w: container without read view", errMissingArgument))
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	fsys := &FS{
		Options:   opts,
		Metrics:   &Metrics{},
		container: container,
		readOnly:  opts.ReadOnly || container.WriteView == nil,
	}

	if err := fsys.load(); err != nil {
		return nil, err
	}

	if opts.Cache != nil && !fsys.readOnly {
		if err := ensureDir(opts.Cache, opts.CacheDir); err != nil {
			return nil, vfs.Fail(vfs.OpLoad, opts.CacheDir, err)
		}
	}

	return fsys, nil
}

// Open opens the container at path of parent and returns a pointer to
// a new [FS] over it. Unless the [FS] is read-only, flag can create the
// container, in which case it starts out as an empty archive.
//
// You must call Close() on the returned [FS] to release the container.
func Open(parent vfs.FS, path string, flag vfs.OpenFlag, opts *Options) (*FS, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	caps := vfs.CapReadView
	if !opts.ReadOnly {
		caps |= vfs.CapWriteView
	}

	h, err := parent.Open(path, caps, flag)
	if err != nil {
		return nil, vfs.Fail(vfs.OpLoad, path, err)
	}

	fsys, err := New(h, opts)
	if err != nil {
		h.Close()

		return nil, err
	}
	fsys.owned = true

	return fsys, nil
}

// Close releases the container if it was opened by [Open].
// The [FS] is no longer usable afterwards.
func (fsys *FS) Close() error {
	if !fsys.owned {
		return nil
	}

	return fsys.container.Close() //nolint:wrapcheck
}

// ReadOnly returns true if the [FS] refuses all mutation.
func (fsys *FS) ReadOnly() bool {
	return fsys.readOnly
}

// Comment returns the archive comment of the container.
func (fsys *FS) Comment() string {
	return fsys.comment
}

// Entry returns a snapshot of the index record at path.
func (fsys *FS) Entry(path string) (Entry, bool) {
	vfs.MustRelative(vfs.OpState, path)

	e, ok := fsys.index.get(path)
	if !ok {
		return Entry{}, false
	}

	return *e, true
}

// Len returns the amount of entries in the index, excluding the root.
func (fsys *FS) Len() int {
	return len(fsys.index.keys)
}

func (fsys *FS) view() []byte {
	return fsys.container.ReadView.Bytes()
}

// load replaces the index with one parsed from the current container.
func (fsys *FS) load() error {
	ix, comment, err := parse(fsys.view(), fsys.Options.ForceStoreDirs)
	if err != nil {
		return vfs.WrapError(vfs.OpLoad, "", vfs.ErrData, err)
	}

	fsys.index = ix
	fsys.comment = comment

	return nil
}

// ensureDir creates dir and all of its missing parents within fsys.
func ensureDir(fsys vfs.FS, dir string) error {
	if dir == "" {
		return nil
	}

	switch st := fsys.State(dir); {
	case st.Kind.IsDir():
		return nil
	case st.Exists():
		return vfs.NewError(vfs.OpCreateDir, dir, vfs.ErrNotDir)
	}

	parent, _ := vfs.Split(dir)
	if err := ensureDir(fsys, parent); err != nil {
		return err
	}

	return fsys.CreateDir(dir) //nolint:wrapcheck
}
