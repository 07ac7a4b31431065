// Package subvfs implements a backend exposing a subtree of another backend.
package subvfs

import (
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var _ vfs.FS = (*FS)(nil)

// FS presents the directory prefix of parent as its own root. Every call
// is delegated to parent with prefix joined onto the path.
type FS struct {
	vfs.Attachment

	parent vfs.FS
	prefix string
}

// New returns a pointer to a new [FS] over the directory prefix of parent.
func New(parent vfs.FS, prefix string) (*FS, error) {
	vfs.MustRelative(vfs.OpResolve, prefix)

	if parent == nil || !vfs.IsNormalized(prefix) {
		return nil, vfs.NewError(vfs.OpResolve, prefix, vfs.ErrInvalid)
	}

	switch st := parent.State(prefix); {
	case !st.Exists():
		return nil, vfs.NewError(vfs.OpResolve, prefix, vfs.ErrNotFound)
	case !st.Kind.IsDir():
		return nil, vfs.NewError(vfs.OpResolve, prefix, vfs.ErrNotDir)
	}

	return &FS{parent: parent, prefix: prefix}, nil
}

// Parent returns the decorated backend.
func (fsys *FS) Parent() vfs.FS {
	return fsys.parent
}

// Prefix returns the subtree of the parent this [FS] exposes.
func (fsys *FS) Prefix() string {
	return fsys.prefix
}

func (fsys *FS) full(op, path string) string {
	vfs.MustRelative(op, path)

	return vfs.Join(fsys.prefix, path)
}

// local turns a node of the parent back into one of this [FS].
func (fsys *FS) local(n vfs.Node) vfs.Node {
	rel := n.Path
	if fsys.prefix != "" {
		switch {
		case rel == fsys.prefix:
			rel = ""
		case len(rel) > len(fsys.prefix) && rel[:len(fsys.prefix)+1] == fsys.prefix+"/":
			rel = rel[len(fsys.prefix)+1:]
		}
	}

	return vfs.Node{Path: rel, FS: fsys}
}

func (fsys *FS) State(path string) vfs.State {
	st := fsys.parent.State(fsys.full(vfs.OpState, path))
	st.Node = vfs.Node{Path: path, FS: fsys}

	return st
}

func (fsys *FS) Children(path string) ([]vfs.Node, error) {
	nodes, err := fsys.parent.Children(fsys.full(vfs.OpChildren, path))
	if err != nil {
		return nil, vfs.WithPath(err, path)
	}

	for i := range nodes {
		nodes[i] = fsys.local(nodes[i])
	}

	return nodes, nil
}

func (fsys *FS) CreateDir(path string) error {
	return vfs.WithPath(fsys.parent.CreateDir(fsys.full(vfs.OpCreateDir, path)), path)
}

func (fsys *FS) Remove(path string) error {
	vfs.MustRelative(vfs.OpRemove, path)

	if path == "" {
		return vfs.RemoveRoot(fsys)
	}

	return vfs.WithPath(fsys.parent.Remove(fsys.full(vfs.OpRemove, path)), path)
}

func (fsys *FS) Copy(from, to string) error {
	return vfs.WithPath(fsys.parent.Copy(fsys.full(vfs.OpCopy, from), fsys.full(vfs.OpCopy, to)), to)
}

func (fsys *FS) Truncate(path string, size int64) error {
	return vfs.WithPath(fsys.parent.Truncate(fsys.full(vfs.OpTruncate, path), size), path)
}

// Sync syncs the parent backend.
func (fsys *FS) Sync() error {
	return fsys.parent.Sync() //nolint:wrapcheck
}

func (fsys *FS) Open(path string, caps vfs.Capability, flag vfs.OpenFlag) (*vfs.Handle, error) {
	h, err := fsys.parent.Open(fsys.full(vfs.OpOpen, path), caps, flag)
	if err != nil {
		return nil, vfs.WithPath(err, path)
	}

	return h, nil
}
