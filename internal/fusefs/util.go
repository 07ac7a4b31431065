package fusefs

import (
	"errors"
	"os"
	"syscall"

	"bazil.org/fuse"
	"github.com/desertwitch/zipvfs/internal/vfs"
)

var codeErrnos = map[vfs.Code]syscall.Errno{
	vfs.ErrInvalid:              syscall.EINVAL,
	vfs.ErrBusyMounted:          syscall.EBUSY,
	vfs.ErrNotFound:             syscall.ENOENT,
	vfs.ErrExist:                syscall.EEXIST,
	vfs.ErrUsedMountPoint:       syscall.EEXIST,
	vfs.ErrNotAMountPoint:       syscall.ENOTDIR,
	vfs.ErrUnmountRoot:          syscall.EBUSY,
	vfs.ErrFSNotFound:           syscall.ENOENT,
	vfs.ErrSystem:               syscall.EIO,
	vfs.ErrOpenFailed:           syscall.EIO,
	vfs.ErrFileBusy:             syscall.EBUSY,
	vfs.ErrNotRegular:           syscall.EISDIR,
	vfs.ErrNotDir:               syscall.ENOTDIR,
	vfs.ErrPermission:           syscall.EACCES,
	vfs.ErrNotEmpty:             syscall.ENOTEMPTY,
	vfs.ErrData:                 syscall.EIO,
	vfs.ErrUnsupportedInterface: syscall.ENOTSUP,
}

func toFuseErr(err error) error {
	var errno fuse.Errno
	if errors.As(err, &errno) {
		return errno
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		return fuse.ToErrno(sysErr)
	}

	var vfsErr *vfs.Error
	if errors.As(err, &vfsErr) {
		if e, ok := codeErrnos[vfsErr.Code]; ok {
			return fuse.ToErrno(e)
		}
	}

	switch {
	case os.IsNotExist(err):
		return fuse.ToErrno(syscall.ENOENT)

	case os.IsPermission(err):
		return fuse.ToErrno(syscall.EACCES)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}

// countError counts a failed request and passes its error through.
func (fsys *FS) countError(err error) error {
	if err != nil {
		fsys.Metrics.Errors.Add(1)
	}

	return err
}

// fail logs a failed request and returns the errno for the kernel.
func (fsys *FS) fail(path, op string, err error) error {
	fsys.rbuf.Printf("%q->%s: error: %v\n", path, op, err)

	return fsys.countError(toFuseErr(err))
}
