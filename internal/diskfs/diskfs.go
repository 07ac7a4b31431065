// Package diskfs implements a backend over a directory of the host filesystem.
//
// Views and maps are served by memory-mapping the opened file.
package diskfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	_ vfs.FS = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
	errNotADirectory   = errors.New("not a directory")
)

// FS is a [vfs.FS] rooted at a directory of the host filesystem.
type FS struct {
	vfs.Attachment

	root     string
	readOnly bool
}

// New returns a pointer to a new [FS] rooted at the host directory root.
func New(root string, readOnly bool) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: need a root dir", errMissingArgument)
	}

	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %q", errNotADirectory, root)
	}

	return &FS{root: root, readOnly: readOnly}, nil
}

// HostPath returns the host filesystem path that path maps to.
func (fsys *FS) HostPath(path string) string {
	return filepath.Join(fsys.root, filepath.FromSlash(path))
}

// ReadOnly returns true if the [FS] refuses all mutation.
func (fsys *FS) ReadOnly() bool {
	return fsys.readOnly
}

func (fsys *FS) State(path string) vfs.State {
	vfs.MustRelative(vfs.OpState, path)

	st := vfs.State{Node: vfs.Node{Path: path, FS: fsys}}
	if !vfs.IsNormalized(path) {
		st.Kind = vfs.KindInvalid

		return st
	}

	fi, err := os.Lstat(fsys.HostPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			st.Kind = vfs.KindNotFound
		} else {
			st.Kind = vfs.KindInvalid
		}

		return st
	}

	st.Kind = kindOf(fi.Mode())
	if st.Kind == vfs.KindRegular {
		st.Size = fi.Size()
	}

	return st
}

func (fsys *FS) Children(path string) ([]vfs.Node, error) {
	vfs.MustRelative(vfs.OpChildren, path)

	if !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrInvalid)
	}

	entries, err := os.ReadDir(fsys.HostPath(path))
	if err != nil {
		return nil, toError(vfs.OpChildren, path, err)
	}

	nodes := make([]vfs.Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, vfs.Node{Path: vfs.Join(path, e.Name()), FS: fsys})
	}

	return nodes, nil
}

func (fsys *FS) CreateDir(path string) error {
	vfs.MustRelative(vfs.OpCreateDir, path)

	if path == "" || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrInvalid)
	}
	if fsys.readOnly {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrPermission)
	}

	if err := os.Mkdir(fsys.HostPath(path), dirPerm); err != nil {
		return toError(vfs.OpCreateDir, path, err)
	}

	return nil
}

func (fsys *FS) Remove(path string) error {
	vfs.MustRelative(vfs.OpRemove, path)

	if path == "" {
		return vfs.RemoveRoot(fsys)
	}
	if !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrInvalid)
	}
	if fsys.readOnly {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrPermission)
	}

	if fsys.State(path).Kind == vfs.KindDirectory {
		empty, err := isEmptyDir(fsys.HostPath(path))
		if err != nil {
			return toError(vfs.OpRemove, path, err)
		}
		if !empty {
			return vfs.NewError(vfs.OpRemove, path, vfs.ErrNotEmpty)
		}
	}

	if err := os.Remove(fsys.HostPath(path)); err != nil {
		return toError(vfs.OpRemove, path, err)
	}

	return nil
}

// Copy copies a regular file within the [FS] through a stream copy.
func (fsys *FS) Copy(from, to string) error {
	vfs.MustRelative(vfs.OpCopy, from)
	vfs.MustRelative(vfs.OpCopy, to)

	if !vfs.IsNormalized(from) || to == "" || !vfs.IsNormalized(to) {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrInvalid)
	}
	if fsys.readOnly {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrPermission)
	}

	return vfs.CopyFile(fsys, from, fsys, to)
}

func (fsys *FS) Truncate(path string, size int64) error {
	vfs.MustRelative(vfs.OpTruncate, path)

	if size < 0 || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrInvalid)
	}
	if fsys.readOnly {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrPermission)
	}

	switch fsys.State(path).Kind { //nolint:exhaustive
	case vfs.KindRegular:
	case vfs.KindNotFound:
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotFound)
	default:
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotRegular)
	}

	if err := os.Truncate(fsys.HostPath(path), size); err != nil {
		return toError(vfs.OpTruncate, path, err)
	}

	return nil
}

// Sync flushes the root directory of the [FS] to disk.
// Files are flushed individually through their handles.
func (fsys *FS) Sync() error {
	if fsys.readOnly {
		return nil
	}

	d, err := os.Open(fsys.root)
	if err != nil {
		return toError(vfs.OpSync, "", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return toError(vfs.OpSync, "", err)
	}

	return nil
}

func (fsys *FS) Open(path string, caps vfs.Capability, flag vfs.OpenFlag) (*vfs.Handle, error) {
	vfs.MustRelative(vfs.OpOpen, path)

	if caps == 0 || path == "" || !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrInvalid)
	}

	writable := caps&vfs.CapWriting != 0
	if fsys.readOnly && (writable || flag != vfs.OpenExisting) {
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrPermission)
	}

	osFlag := os.O_RDONLY
	if writable {
		osFlag = os.O_RDWR
	}
	switch flag {
	case vfs.CreateNew:
		osFlag |= os.O_CREATE | os.O_EXCL
	case vfs.CreateOrOpen:
		osFlag |= os.O_CREATE
	case vfs.OpenExisting:
	}

	if st := fsys.State(path); st.Exists() && st.Kind != vfs.KindRegular {
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrNotRegular)
	}

	f, err := os.OpenFile(fsys.HostPath(path), osFlag, filePerm)
	if err != nil {
		return nil, toError(vfs.OpOpen, path, err)
	}

	df := &file{f: f, writable: writable}

	if caps&(vfs.CapReadView|vfs.CapWriteView) != 0 {
		if err := df.remap(); err != nil {
			f.Close()

			return nil, vfs.WrapError(vfs.OpOpen, path, vfs.ErrOpenFailed, err)
		}
	}

	h, err := vfs.Bind(df, caps, df)
	if err != nil {
		df.Close()

		return nil, vfs.Fail(vfs.OpOpen, path, err)
	}

	return h, nil
}

func kindOf(mode fs.FileMode) vfs.FileKind {
	switch {
	case mode.IsRegular():
		return vfs.KindRegular
	case mode.IsDir():
		return vfs.KindDirectory
	case mode&fs.ModeSymlink != 0:
		return vfs.KindSymlink
	case mode&fs.ModeSocket != 0:
		return vfs.KindSocket
	case mode&fs.ModeNamedPipe != 0:
		return vfs.KindPipe
	default:
		return vfs.KindUnknown
	}
}

func isEmptyDir(path string) (bool, error) {
	d, err := os.Open(path)
	if err != nil {
		return false, err //nolint:wrapcheck
	}
	defer d.Close()

	if _, err := d.Readdirnames(1); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}

		return false, err //nolint:wrapcheck
	}

	return false, nil
}

// toError maps a host filesystem error to a [vfs.Error].
func toError(op, path string, err error) error {
	var code vfs.Code

	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = vfs.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		code = vfs.ErrExist
	case errors.Is(err, fs.ErrPermission):
		code = vfs.ErrPermission
	case errors.Is(err, syscall.ENOTEMPTY):
		code = vfs.ErrNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		code = vfs.ErrNotDir
	case errors.Is(err, syscall.EISDIR):
		code = vfs.ErrNotRegular
	case errors.Is(err, syscall.EBUSY):
		code = vfs.ErrFileBusy
	default:
		code = vfs.ErrSystem
	}

	return vfs.WrapError(op, path, code, err)
}
