package fusefs

import (
	"context"
	"os"
	"slices"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)
	_ fs.NodeMkdirer        = (*dirNode)(nil)
	_ fs.NodeCreater        = (*dirNode)(nil)
	_ fs.NodeRemover        = (*dirNode)(nil)
)

// dirNode is a directory or mount point of the namespace.
type dirNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
	path  string // Absolute path within the namespace.
}

func (d *dirNode) child(name string) string {
	return vfs.Join(d.path, name)
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | d.fsys.dirPerm()
	a.Inode = d.inode

	a.Atime = d.fsys.MountTime
	a.Ctime = d.fsys.MountTime
	a.Mtime = d.fsys.MountTime

	return nil
}

func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	d.fsys.mu.Lock()
	defer d.fsys.mu.Unlock()

	entries, err := d.fsys.root.ReadDir(d.path)
	if err != nil {
		return nil, d.fsys.fail(d.path, "ReadDirAll", err)
	}

	resp := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		var typ fuse.DirentType

		switch {
		case e.State.Kind.IsDir():
			typ = fuse.DT_Dir
		case e.State.Kind == vfs.KindRegular:
			typ = fuse.DT_File
		default:
			continue
		}

		resp = append(resp, fuse.Dirent{
			Name:  e.Name,
			Type:  typ,
			Inode: fs.GenerateDynamicInode(d.inode, e.Name),
		})
	}

	slices.SortFunc(resp, func(a, b fuse.Dirent) int {
		if a.Type == b.Type {
			return strings.Compare(a.Name, b.Name)
		}
		if a.Type == fuse.DT_Dir {
			return -1
		}

		return 1
	})

	return resp, nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	d.fsys.mu.Lock()
	defer d.fsys.mu.Unlock()

	path := d.child(name)

	return d.node(path, name, d.fsys.state(path))
}

// node returns the [fs.Node] for the child name in state st.
func (d *dirNode) node(path, name string, st vfs.State) (fs.Node, error) {
	inode := fs.GenerateDynamicInode(d.inode, name)

	switch {
	case st.Kind.IsDir():
		return &dirNode{fsys: d.fsys, inode: inode, path: path}, nil

	case st.Kind == vfs.KindRegular:
		return &fileNode{fsys: d.fsys, inode: inode, path: path}, nil

	default:
		return nil, toFuseErr(syscall.ENOENT)
	}
}

func (d *dirNode) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if d.fsys.Options.ReadOnly {
		return nil, toFuseErr(syscall.EROFS)
	}

	d.fsys.mu.Lock()
	defer d.fsys.mu.Unlock()

	path := d.child(req.Name)
	if err := d.fsys.root.CreateDir(path); err != nil {
		return nil, d.fsys.fail(path, "Mkdir", err)
	}
	d.fsys.invalidate(path)

	return &dirNode{
		fsys:  d.fsys,
		inode: fs.GenerateDynamicInode(d.inode, req.Name),
		path:  path,
	}, nil
}

func (d *dirNode) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if d.fsys.Options.ReadOnly {
		return nil, nil, toFuseErr(syscall.EROFS)
	}

	d.fsys.mu.Lock()
	defer d.fsys.mu.Unlock()

	path := d.child(req.Name)

	flag := vfs.CreateOrOpen
	if req.Flags&fuse.OpenExclusive != 0 {
		flag = vfs.CreateNew
	}

	n := &fileNode{
		fsys:  d.fsys,
		inode: fs.GenerateDynamicInode(d.inode, req.Name),
		path:  path,
	}

	fh, err := n.open(req.Flags, flag)
	if err != nil {
		return nil, nil, d.fsys.fail(path, "Create", err)
	}
	resp.Flags |= fuse.OpenDirectIO

	return n, fh, nil
}

func (d *dirNode) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	if d.fsys.Options.ReadOnly {
		return toFuseErr(syscall.EROFS)
	}

	d.fsys.mu.Lock()
	defer d.fsys.mu.Unlock()

	path := d.child(req.Name)

	st := d.fsys.state(path)
	if !st.Exists() {
		return toFuseErr(syscall.ENOENT)
	}
	if req.Dir != st.Kind.IsDir() {
		if req.Dir {
			return toFuseErr(syscall.ENOTDIR)
		}

		return toFuseErr(syscall.EISDIR)
	}

	if err := d.fsys.root.Remove(path); err != nil {
		return d.fsys.fail(path, "Remove", err)
	}
	d.fsys.invalidate(path)

	return nil
}
