package rootfs

import (
	"slices"
	"strings"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

// DirEntry is one named child of a directory of the namespace.
type DirEntry struct {
	Name  string
	State vfs.State
}

// resolveOp resolves absPath for op, failing for malformed and unowned paths.
func (fsys *FS) resolveOp(op, absPath string) (vfs.FS, string, bool, error) {
	if !validAbs(absPath) {
		return nil, "", false, vfs.NewError(op, absPath, vfs.ErrInvalid)
	}

	backend, rel, isMount := fsys.resolve(absPath)
	if backend == nil {
		return nil, "", false, vfs.NewError(op, absPath, vfs.ErrFSNotFound)
	}

	return backend, rel, isMount, nil
}

// ReadDir lists the children of the directory at absPath, merging the
// backend's own children with the mount points directly beneath it.
// A mount point shadows a backend child of the same name.
func (fsys *FS) ReadDir(absPath string) ([]DirEntry, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, _, err := fsys.resolveOp(vfs.OpChildren, absPath)
	if err != nil {
		return nil, err
	}

	children, err := backend.Children(rel)
	if err != nil {
		return nil, vfs.WithPath(err, absPath)
	}

	entries := make(map[string]DirEntry, len(children))
	for _, c := range children {
		name := vfs.Base(c.Path)
		entries[name] = DirEntry{Name: name, State: backend.State(c.Path)}
	}

	prefix := toPrefix(absPath)
	i, found := slices.BinarySearch(fsys.prefixes, prefix)
	if found {
		i++
	}
	for ; i < len(fsys.prefixes) && strings.HasPrefix(fsys.prefixes[i], prefix); i++ {
		name := strings.TrimSuffix(fsys.prefixes[i][len(prefix):], "/")
		if strings.Contains(name, "/") {
			continue
		}
		entries[name] = DirEntry{
			Name: name,
			State: vfs.State{
				Node: vfs.Node{Path: "", FS: fsys.mounts[fsys.prefixes[i]]},
				Kind: vfs.KindMountPoint,
			},
		}
	}

	result := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	slices.SortFunc(result, func(a, b DirEntry) int {
		return strings.Compare(a.Name, b.Name)
	})

	return result, nil
}

// Open opens the file at absPath through its owning backend.
func (fsys *FS) Open(absPath string, caps vfs.Capability, flag vfs.OpenFlag) (*vfs.Handle, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, isMount, err := fsys.resolveOp(vfs.OpOpen, absPath)
	if err != nil {
		return nil, err
	}
	if isMount {
		return nil, vfs.NewError(vfs.OpOpen, absPath, vfs.ErrNotRegular)
	}

	h, err := backend.Open(rel, caps, flag)
	if err != nil {
		return nil, vfs.WithPath(err, absPath)
	}

	return h, nil
}

// CreateDir creates the directory at absPath through its owning backend.
func (fsys *FS) CreateDir(absPath string) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, isMount, err := fsys.resolveOp(vfs.OpCreateDir, absPath)
	if err != nil {
		return err
	}
	if isMount {
		return vfs.NewError(vfs.OpCreateDir, absPath, vfs.ErrExist)
	}

	return vfs.WithPath(backend.CreateDir(rel), absPath)
}

// Remove removes the node at absPath. Mount points and directories
// containing them cannot be removed.
func (fsys *FS) Remove(absPath string) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, err := fsys.resolveRemovable(absPath)
	if err != nil {
		return err
	}

	return vfs.WithPath(backend.Remove(rel), absPath)
}

// RemoveAll removes absPath and everything beneath it.
func (fsys *FS) RemoveAll(absPath string) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, err := fsys.resolveRemovable(absPath)
	if err != nil {
		return err
	}

	return vfs.WithPath(vfs.RemoveAll(backend, rel), absPath)
}

func (fsys *FS) resolveRemovable(absPath string) (vfs.FS, string, error) {
	backend, rel, isMount, err := fsys.resolveOp(vfs.OpRemove, absPath)
	if err != nil {
		return nil, "", err
	}
	if isMount || fsys.containMountPoint(toPrefix(absPath)) {
		return nil, "", vfs.NewError(vfs.OpRemove, absPath, vfs.ErrBusyMounted)
	}

	return backend, rel, nil
}

// Truncate resizes the regular file at absPath.
func (fsys *FS) Truncate(absPath string, size int64) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	backend, rel, isMount, err := fsys.resolveOp(vfs.OpTruncate, absPath)
	if err != nil {
		return err
	}
	if isMount {
		return vfs.NewError(vfs.OpTruncate, absPath, vfs.ErrNotRegular)
	}

	return vfs.WithPath(backend.Truncate(rel, size), absPath)
}

// Copy copies the regular file from to the path to. Within the same backend
// the backend's own copy is used, across backends the content is streamed.
func (fsys *FS) Copy(from, to string) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	src, srcRel, srcMount, err := fsys.resolveOp(vfs.OpCopy, from)
	if err != nil {
		return err
	}
	dst, dstRel, dstMount, err := fsys.resolveOp(vfs.OpCopy, to)
	if err != nil {
		return err
	}
	if srcMount {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrNotRegular)
	}
	if dstMount {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrNotRegular)
	}

	if src == dst {
		return vfs.WithPath(src.Copy(srcRel, dstRel), to)
	}

	return vfs.WithPath(vfs.CopyFile(src, srcRel, dst, dstRel), to)
}
