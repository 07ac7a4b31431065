// Package memfs implements an in-memory backend.
//
// It keeps every file as one contiguous byte slice, so it can serve all
// capabilities, including views and maps, without any copying. It is used
// as the materialization cache of archive-backed filesystems and to hold
// scratch containers.
package memfs

import (
	"slices"
	"strings"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

var _ vfs.FS = (*FS)(nil)

type node struct {
	dir  bool
	data []byte
}

// FS is an in-memory [vfs.FS]. It is not safe for concurrent use.
type FS struct {
	vfs.Attachment

	nodes map[string]*node
}

// New returns a pointer to a new and empty [FS].
func New() *FS {
	return &FS{
		nodes: map[string]*node{
			"": {dir: true},
		},
	}
}

// lookup returns the node at a path the caller already validated.
func (fsys *FS) lookup(path string) (*node, bool) {
	n, ok := fsys.nodes[path]

	return n, ok
}

// parentDir verifies the parent of path exists and is a directory.
func (fsys *FS) parentDir(op, path string) error {
	dir, _ := vfs.Split(path)

	p, ok := fsys.lookup(dir)
	if !ok {
		return vfs.NewError(op, path, vfs.ErrNotFound)
	}
	if !p.dir {
		return vfs.NewError(op, path, vfs.ErrNotDir)
	}

	return nil
}

func (fsys *FS) State(path string) vfs.State {
	vfs.MustRelative(vfs.OpState, path)

	st := vfs.State{Node: vfs.Node{Path: path, FS: fsys}}
	if !vfs.IsNormalized(path) {
		st.Kind = vfs.KindInvalid

		return st
	}

	n, ok := fsys.lookup(path)
	switch {
	case !ok:
		st.Kind = vfs.KindNotFound
	case n.dir:
		st.Kind = vfs.KindDirectory
	default:
		st.Kind = vfs.KindRegular
		st.Size = int64(len(n.data))
	}

	return st
}

func (fsys *FS) Children(path string) ([]vfs.Node, error) {
	vfs.MustRelative(vfs.OpChildren, path)

	if !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrInvalid)
	}

	n, ok := fsys.lookup(path)
	if !ok {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrNotFound)
	}
	if !n.dir {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrNotDir)
	}

	var names []string
	for p := range fsys.nodes {
		if p == "" {
			continue
		}
		if dir, _ := vfs.Split(p); dir == path {
			names = append(names, p)
		}
	}
	slices.Sort(names)

	nodes := make([]vfs.Node, 0, len(names))
	for _, p := range names {
		nodes = append(nodes, vfs.Node{Path: p, FS: fsys})
	}

	return nodes, nil
}

func (fsys *FS) CreateDir(path string) error {
	vfs.MustRelative(vfs.OpCreateDir, path)

	if path == "" || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrInvalid)
	}
	if _, ok := fsys.lookup(path); ok {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrExist)
	}
	if err := fsys.parentDir(vfs.OpCreateDir, path); err != nil {
		return err
	}

	fsys.nodes[path] = &node{dir: true}

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

	n, ok := fsys.lookup(path)
	if !ok {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrNotFound)
	}
	if n.dir {
		prefix := path + "/"
		for p := range fsys.nodes {
			if strings.HasPrefix(p, prefix) {
				return vfs.NewError(vfs.OpRemove, path, vfs.ErrNotEmpty)
			}
		}
	}

	delete(fsys.nodes, path)

	return nil
}

func (fsys *FS) Copy(from, to string) error {
	vfs.MustRelative(vfs.OpCopy, from)
	vfs.MustRelative(vfs.OpCopy, to)

	if !vfs.IsNormalized(from) || to == "" || !vfs.IsNormalized(to) {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrInvalid)
	}

	src, ok := fsys.lookup(from)
	if !ok {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrNotFound)
	}
	if src.dir {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrNotRegular)
	}
	if dst, ok := fsys.lookup(to); ok && dst.dir {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrNotRegular)
	}
	if err := fsys.parentDir(vfs.OpCopy, to); err != nil {
		return err
	}

	fsys.nodes[to] = &node{data: slices.Clone(src.data)}

	return nil
}

func (fsys *FS) Truncate(path string, size int64) error {
	vfs.MustRelative(vfs.OpTruncate, path)

	if size < 0 || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrInvalid)
	}

	n, ok := fsys.lookup(path)
	if !ok {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotFound)
	}
	if n.dir {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotRegular)
	}

	n.data = resize(n.data, size)

	return nil
}

// Sync is a no-op, memory is as durable as it gets.
func (fsys *FS) Sync() error {
	return nil
}

func (fsys *FS) Open(path string, caps vfs.Capability, flag vfs.OpenFlag) (*vfs.Handle, error) {
	vfs.MustRelative(vfs.OpOpen, path)

	if caps == 0 || path == "" || !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrInvalid)
	}

	n, ok := fsys.lookup(path)
	switch {
	case ok && n.dir:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrNotRegular)
	case ok && flag == vfs.CreateNew:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrExist)
	case !ok && flag == vfs.OpenExisting:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrNotFound)
	case !ok:
		if err := fsys.parentDir(vfs.OpOpen, path); err != nil {
			return nil, err
		}
		n = &node{}
	}

	f := &file{n: n}

	h, err := vfs.Bind(f, caps, f)
	if err != nil {
		return nil, vfs.Fail(vfs.OpOpen, path, err)
	}

	if !ok {
		fsys.nodes[path] = n
	}

	return h, nil
}

// resize returns data grown with zeroes or shrunk to size.
func resize(data []byte, size int64) []byte {
	if size <= int64(len(data)) {
		return data[:size]
	}

	return append(data, make([]byte, size-int64(len(data)))...)
}
