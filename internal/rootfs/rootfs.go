// Package rootfs implements the mount table that composes backends into
// one hierarchical namespace of absolute paths.
//
// Every absolute path is resolved to its owning backend and the path
// relative to it by a longest-prefix match over the mount points. Mounting
// and unmounting are exclusive, while all resolving operations may run
// concurrently with each other.
package rootfs

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

var _ vfs.Namespace = (*FS)(nil)

// Options contains all settings for the mount table.
type Options struct {
	// PinRoot refuses to ever unmount the backend at "/".
	PinRoot bool
}

// MountEntry is one mounted backend.
type MountEntry struct {
	Prefix string // Absolute mount point, always ending in '/'
	FS     vfs.FS
}

// Path returns the mount point in normalized form.
func (m MountEntry) Path() string {
	return fromPrefix(m.Prefix)
}

// FS is the mount table and resolver.
type FS struct {
	mu sync.RWMutex

	pinRoot  bool
	prefixes []string
	mounts   map[string]vfs.FS
	owners   map[vfs.FS]string
}

// New returns a pointer to a new and empty [FS].
func New(opts *Options) *FS {
	if opts == nil {
		opts = &Options{}
	}

	return &FS{
		pinRoot: opts.PinRoot,
		mounts:  make(map[string]vfs.FS),
		owners:  make(map[vfs.FS]string),
	}
}

func toPrefix(p string) string {
	if p == "/" {
		return p
	}

	return p + "/"
}

func fromPrefix(prefix string) string {
	if prefix == "/" {
		return prefix
	}

	return strings.TrimSuffix(prefix, "/")
}

func validAbs(p string) bool {
	return vfs.IsAbs(p) && vfs.IsNormalized(p)
}

// Mount attaches backend at absPath. The first mount must be at "/", every
// following one must target an existing directory of the namespace.
func (fsys *FS) Mount(absPath string, backend vfs.FS) error {
	if !validAbs(absPath) || backend == nil {
		return vfs.NewError(vfs.OpMount, absPath, vfs.ErrInvalid)
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	prefix := toPrefix(absPath)

	if _, ok := fsys.mounts[prefix]; ok {
		return vfs.NewError(vfs.OpMount, absPath, vfs.ErrUsedMountPoint)
	}
	if _, ok := fsys.owners[backend]; ok || backend.Mounted() {
		return vfs.NewError(vfs.OpMount, absPath, vfs.ErrBusyMounted)
	}

	if len(fsys.prefixes) == 0 {
		if absPath != "/" {
			return vfs.NewError(vfs.OpMount, absPath, vfs.ErrNotAMountPoint)
		}
	} else if fsys.locate(absPath).Kind != vfs.KindDirectory {
		return vfs.NewError(vfs.OpMount, absPath, vfs.ErrNotAMountPoint)
	}

	i, _ := slices.BinarySearch(fsys.prefixes, prefix)
	fsys.prefixes = slices.Insert(fsys.prefixes, i, prefix)
	fsys.mounts[prefix] = backend
	fsys.owners[backend] = prefix

	vfs.Attach(backend, fsys, absPath)

	return nil
}

// Unmount detaches the backend mounted at absPath. It fails while any
// other mount lies beneath absPath.
func (fsys *FS) Unmount(absPath string) error {
	if !validAbs(absPath) {
		return vfs.NewError(vfs.OpUnmount, absPath, vfs.ErrInvalid)
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	prefix := toPrefix(absPath)

	backend, ok := fsys.mounts[prefix]
	if !ok {
		return vfs.NewError(vfs.OpUnmount, absPath, vfs.ErrFSNotFound)
	}
	if fsys.pinRoot && prefix == "/" {
		return vfs.NewError(vfs.OpUnmount, absPath, vfs.ErrUnmountRoot)
	}
	if fsys.containMountPoint(prefix) {
		return vfs.NewError(vfs.OpUnmount, absPath, vfs.ErrBusyMounted)
	}

	i, _ := slices.BinarySearch(fsys.prefixes, prefix)
	fsys.prefixes = slices.Delete(fsys.prefixes, i, i+1)
	delete(fsys.mounts, prefix)
	delete(fsys.owners, backend)

	vfs.Detach(backend)

	return nil
}

// match returns the deepest mount prefix containing query, which must
// be an absolute path in prefix form (ending in '/').
//
// The greatest prefix sorting at or before query is either a true prefix
// of it, and then the deepest one, or no mount exists beneath the
// directories both have in common, so the search continues from there.
func (fsys *FS) match(query string) (string, bool) {
	for query != "" {
		i, found := slices.BinarySearch(fsys.prefixes, query)
		if found {
			return query, true
		}
		if i == 0 {
			return "", false
		}

		cand := fsys.prefixes[i-1]
		if strings.HasPrefix(query, cand) {
			return cand, true
		}

		query = commonDir(cand, query)
	}

	return "", false
}

// commonDir returns the longest common prefix of a and b ending in '/'.
func commonDir(a, b string) string {
	n := min(len(a), len(b))

	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	return a[:strings.LastIndexByte(a[:i], '/')+1]
}

// resolve returns the backend owning absPath, the path relative to it and
// whether absPath is the mount point itself.
func (fsys *FS) resolve(absPath string) (vfs.FS, string, bool) {
	query := toPrefix(absPath)

	prefix, ok := fsys.match(query)
	if !ok {
		return nil, "", false
	}
	if prefix == query {
		return fsys.mounts[prefix], "", true
	}

	return fsys.mounts[prefix], absPath[len(prefix):], false
}

func (fsys *FS) locate(absPath string) vfs.State {
	if !validAbs(absPath) {
		return vfs.State{Node: vfs.Node{Path: absPath}, Kind: vfs.KindInvalid}
	}

	backend, rel, isMount := fsys.resolve(absPath)
	switch {
	case backend == nil:
		return vfs.State{Node: vfs.Node{Path: absPath}, Kind: vfs.KindInvalid}
	case isMount:
		return vfs.State{Node: vfs.Node{Path: "", FS: backend}, Kind: vfs.KindMountPoint}
	default:
		return backend.State(rel)
	}
}

// Locate returns the state of absPath as answered by its owning backend.
// Mount points report [vfs.KindMountPoint], unresolvable or malformed paths
// report [vfs.KindInvalid].
func (fsys *FS) Locate(absPath string) vfs.State {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	return fsys.locate(absPath)
}

// State is the same as [FS.Locate].
func (fsys *FS) State(absPath string) vfs.State {
	return fsys.Locate(absPath)
}

// Resolve returns the backend owning absPath and the path relative to it.
func (fsys *FS) Resolve(absPath string) (vfs.FS, string, error) {
	if !validAbs(absPath) {
		return nil, "", vfs.NewError(vfs.OpResolve, absPath, vfs.ErrInvalid)
	}

	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, _ := fsys.resolve(absPath)
	if backend == nil {
		return nil, "", vfs.NewError(vfs.OpResolve, absPath, vfs.ErrFSNotFound)
	}

	return backend, rel, nil
}

// containMountPoint reports if any mount lies strictly beneath prefix.
// Descendants of a prefix sort contiguously right after it.
func (fsys *FS) containMountPoint(prefix string) bool {
	i, found := slices.BinarySearch(fsys.prefixes, prefix)
	if found {
		i++
	}

	return i < len(fsys.prefixes) && strings.HasPrefix(fsys.prefixes[i], prefix)
}

// ContainMountPoint returns true if any mount lies strictly beneath absPath.
func (fsys *FS) ContainMountPoint(absPath string) bool {
	if !validAbs(absPath) {
		return false
	}

	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	return fsys.containMountPoint(toPrefix(absPath))
}

// MountedFS returns all mounted backends ordered by their mount points.
func (fsys *FS) MountedFS() []MountEntry {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	entries := make([]MountEntry, 0, len(fsys.prefixes))
	for _, p := range fsys.prefixes {
		entries = append(entries, MountEntry{Prefix: p, FS: fsys.mounts[p]})
	}

	return entries
}

// MountPointOf returns where backend is mounted in this [FS].
func (fsys *FS) MountPointOf(backend vfs.FS) (string, bool) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	prefix, ok := fsys.owners[backend]
	if !ok {
		return "", false
	}

	return fromPrefix(prefix), true
}

// Sync syncs every mounted backend in mount point order. All backends are
// synced even if some fail, the failures are returned joined.
func (fsys *FS) Sync() error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	var errs []error
	for _, p := range fsys.prefixes {
		if err := fsys.mounts[p].Sync(); err != nil {
			errs = append(errs, vfs.WithPath(err, fromPrefix(p)))
		}
	}

	return errors.Join(errs...)
}
