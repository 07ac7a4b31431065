// Package fusefs serves a mount table to the kernel as a FUSE filesystem.
package fusefs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/rootfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/jellydator/ttlcache/v3"
)

const (
	fileBasePerm os.FileMode = 0o644
	dirBasePerm  os.FileMode = 0o755
	roPermMask   os.FileMode = 0o555

	defaultAttrCacheSize = 4096
	defaultAttrCacheTTL  = 5 * time.Second
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)
	_ fs.FSDestroyer      = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified at runtime (once mounted).
type Options struct {
	// ReadOnly refuses all mutating requests with EROFS.
	ReadOnly bool

	// AttrCacheSize is the capacity of the attribute cache.
	AttrCacheSize uint64

	// AttrCacheTTL is the time-to-live of each cached attribute.
	AttrCacheTTL time.Duration

	// SyncOnDestroy rewrites all mounted backends when unmounted.
	SyncOnDestroy atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		AttrCacheSize: defaultAttrCacheSize,
		AttrCacheTTL:  defaultAttrCacheTTL,
	}
	opts.SyncOnDestroy.Store(true)

	return opts
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// Errors is the amount of failed kernel requests.
	Errors atomic.Int64

	// OpenHandles is the amount of currently open file handles.
	OpenHandles atomic.Int64

	// TotalReadBytes is the amount of bytes served to the kernel.
	TotalReadBytes atomic.Int64

	// TotalWrittenBytes is the amount of bytes received from the kernel.
	TotalWrittenBytes atomic.Int64

	// TotalSyncCount is the amount of requested namespace syncs.
	TotalSyncCount atomic.Int64
}

// FS is the FUSE filesystem over a [rootfs.FS].
//
// The backends of the namespace are not safe for concurrent use, so all
// requests touching them are serialized.
type FS struct {
	Options   *Options
	Metrics   *Metrics
	MountTime time.Time

	mu        sync.Mutex
	destroyed atomic.Bool
	root      *rootfs.FS
	attrs     *ttlcache.Cache[string, vfs.State]
	rbuf      *logging.RingBuffer
}

// New returns a pointer to a new [FS] serving root.
// You must call Cleanup() once all work is complete.
func New(root *rootfs.FS, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: need a mount table", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	fsys := &FS{
		Options:   opts,
		Metrics:   &Metrics{},
		MountTime: time.Now(),
		root:      root,
		rbuf:      rbuf,
	}

	fsys.attrs = ttlcache.New(
		ttlcache.WithTTL[string, vfs.State](opts.AttrCacheTTL),
		ttlcache.WithCapacity[string, vfs.State](opts.AttrCacheSize),
		ttlcache.WithDisableTouchOnHit[string, vfs.State](),
	)
	go fsys.attrs.Start()

	return fsys, nil
}

// Cleanup does filesystem cleanup and blocks until done.
func (fsys *FS) Cleanup() {
	fsys.attrs.Stop()
}

// Namespace returns the mount table served by the [FS].
func (fsys *FS) Namespace() *rootfs.FS {
	return fsys.root
}

// AttrCacheMetrics returns the metrics of the attribute cache.
func (fsys *FS) AttrCacheMetrics() ttlcache.Metrics {
	return fsys.attrs.Metrics()
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &dirNode{
		fsys:  fsys,
		inode: 1,
		path:  "/",
	}, nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// [FS] derives all inodes from the parent inode and the name, so calls
// to this method reveal a node that was constructed without one.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// Destroy implements [fs.FSDestroyer] and syncs the namespace on unmount.
func (fsys *FS) Destroy() {
	defer fsys.destroyed.Store(true)

	if !fsys.Options.SyncOnDestroy.Load() {
		return
	}

	if err := fsys.Sync(); err != nil {
		fsys.rbuf.Printf("Destroy: sync error: %v\n", err)
	}
}

// Destroyed returns true once the kernel (or a caller) destroyed the [FS].
// Not every kernel sends a destroy request when unmounting.
func (fsys *FS) Destroyed() bool {
	return fsys.destroyed.Load()
}

// Sync rewrites all mounted backends. Backends can only be rewritten while
// no file handles are open, otherwise it fails with [vfs.ErrFileBusy].
func (fsys *FS) Sync() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if n := fsys.Metrics.OpenHandles.Load(); n > 0 {
		return vfs.WrapError(vfs.OpSync, "/", vfs.ErrFileBusy,
			fmt.Errorf("%d handles still open", n))
	}

	fsys.Metrics.TotalSyncCount.Add(1)
	defer fsys.attrs.DeleteAll()

	return fsys.root.Sync() //nolint:wrapcheck
}

// Exclusive runs fn with all kernel requests held off, for consumers
// outside of FUSE that need to touch the backends of the namespace.
func (fsys *FS) Exclusive(fn func(root *rootfs.FS) error) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	defer fsys.attrs.DeleteAll()

	return fn(fsys.root)
}

// state returns the state of absPath, served from the attribute cache
// where possible. Callers must hold the lock.
func (fsys *FS) state(absPath string) vfs.State {
	if item := fsys.attrs.Get(absPath); item != nil {
		return item.Value()
	}

	st := fsys.root.Locate(absPath)
	if st.Exists() {
		fsys.attrs.Set(absPath, st, ttlcache.DefaultTTL)
	}

	return st
}

// invalidate drops absPath from the attribute cache.
func (fsys *FS) invalidate(absPath string) {
	fsys.attrs.Delete(absPath)
}

func (fsys *FS) filePerm() os.FileMode {
	if fsys.Options.ReadOnly {
		return fileBasePerm & roPermMask
	}

	return fileBasePerm
}

func (fsys *FS) dirPerm() os.FileMode {
	if fsys.Options.ReadOnly {
		return dirBasePerm & roPermMask
	}

	return dirBasePerm
}
