package fusefs

import (
	"context"
	"errors"
	"io"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ fs.Node           = (*fileNode)(nil)
	_ fs.NodeOpener     = (*fileNode)(nil)
	_ fs.NodeSetattrer  = (*fileNode)(nil)
	_ fs.NodeFsyncer    = (*fileNode)(nil)
	_ fs.Handle         = (*fileHandle)(nil)
	_ fs.HandleReader   = (*fileHandle)(nil)
	_ fs.HandleWriter   = (*fileHandle)(nil)
	_ fs.HandleFlusher  = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
)

// fileNode is a regular file of the namespace.
type fileNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
	path  string // Absolute path within the namespace.
}

func (f *fileNode) Attr(_ context.Context, a *fuse.Attr) error {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	st := f.fsys.state(f.path)
	if st.Kind != vfs.KindRegular {
		return toFuseErr(syscall.ENOENT)
	}

	a.Mode = f.fsys.filePerm()
	a.Inode = f.inode
	a.Size = uint64(max(st.Size, 0))

	a.Atime = f.fsys.MountTime
	a.Ctime = f.fsys.MountTime
	a.Mtime = f.fsys.MountTime

	return nil
}

func (f *fileNode) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() && f.fsys.Options.ReadOnly {
		return nil, toFuseErr(syscall.EROFS)
	}

	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	fh, err := f.open(req.Flags, vfs.OpenExisting)
	if err != nil {
		return nil, f.fsys.fail(f.path, "Open", err)
	}
	if fh.writable {
		resp.Flags |= fuse.OpenDirectIO
	}

	return fh, nil
}

// open opens a handle on the file. Callers must hold the lock.
func (f *fileNode) open(flags fuse.OpenFlags, flag vfs.OpenFlag) (*fileHandle, error) {
	writable := !flags.IsReadOnly()

	caps := vfs.CapReader | vfs.CapRandomAccess
	if writable {
		caps |= vfs.CapWriter
	}

	truncate := writable && flags&fuse.OpenTruncate != 0 && flag != vfs.CreateNew
	if truncate && f.fsys.root.Locate(f.path).Kind == vfs.KindRegular {
		if err := f.fsys.root.Truncate(f.path, 0); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	h, err := f.fsys.root.Open(f.path, caps, flag)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	f.fsys.invalidate(f.path)
	f.fsys.Metrics.OpenHandles.Add(1)

	return &fileHandle{
		fsys:     f.fsys,
		path:     f.path,
		h:        h,
		writable: writable,
	}, nil
}

func (f *fileNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if f.fsys.Options.ReadOnly {
			return toFuseErr(syscall.EROFS)
		}

		if err := f.truncate(int64(req.Size)); err != nil { //nolint:gosec
			return err
		}
	}

	return f.Attr(ctx, &resp.Attr)
}

func (f *fileNode) truncate(size int64) error {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if err := f.fsys.root.Truncate(f.path, size); err != nil {
		return f.fsys.fail(f.path, "Setattr", err)
	}
	f.fsys.invalidate(f.path)

	return nil
}

// Fsync is a no-op, written content reaches the archives on sync.
func (f *fileNode) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// fileHandle is an open regular file of the namespace.
type fileHandle struct {
	fsys     *FS
	path     string
	h        *vfs.Handle
	writable bool
}

func (fh *fileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.fsys.mu.Lock()
	defer fh.fsys.mu.Unlock()

	if _, err := fh.h.RandomAccess.Seek(req.Offset, io.SeekStart); err != nil {
		return fh.fsys.fail(fh.path, "Read", err)
	}

	buf := make([]byte, req.Size)

	n, err := io.ReadFull(fh.h.Reader, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fh.fsys.fail(fh.path, "Read", err)
	}

	resp.Data = buf[:n]
	fh.fsys.Metrics.TotalReadBytes.Add(int64(n))

	return nil
}

func (fh *fileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if !fh.writable {
		return toFuseErr(syscall.EBADF)
	}

	fh.fsys.mu.Lock()
	defer fh.fsys.mu.Unlock()

	if _, err := fh.h.RandomAccess.Seek(req.Offset, io.SeekStart); err != nil {
		return fh.fsys.fail(fh.path, "Write", err)
	}

	n, err := fh.h.Writer.Write(req.Data)
	resp.Size = n
	fh.fsys.Metrics.TotalWrittenBytes.Add(int64(n))
	fh.fsys.invalidate(fh.path)

	if err != nil {
		return fh.fsys.fail(fh.path, "Write", err)
	}

	return nil
}

func (fh *fileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	if !fh.writable {
		return nil
	}

	fh.fsys.mu.Lock()
	defer fh.fsys.mu.Unlock()

	if err := fh.h.Writer.Sync(); err != nil {
		return fh.fsys.fail(fh.path, "Flush", err)
	}

	return nil
}

func (fh *fileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.fsys.mu.Lock()
	defer fh.fsys.mu.Unlock()

	fh.fsys.Metrics.OpenHandles.Add(-1)
	fh.fsys.invalidate(fh.path)

	if err := fh.h.Close(); err != nil {
		return fh.fsys.fail(fh.path, "Release", err)
	}

	return nil
}
