package memfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/desertwitch/zipvfs/internal/vfs"
)

var (
	_ io.Reader        = (*file)(nil)
	_ vfs.Writer       = (*file)(nil)
	_ vfs.RandomAccess = (*file)(nil)
	_ vfs.ReadView     = (*file)(nil)
	_ vfs.WriteView    = (*file)(nil)
	_ vfs.ReadMap      = (*file)(nil)
	_ vfs.WriteMap     = (*file)(nil)

	errClosed      = errors.New("file already closed")
	errBadWhence   = errors.New("invalid whence")
	errNegativePos = errors.New("negative position")
	errOutOfRange  = errors.New("range out of bounds")
)

// file is an opened node of an [FS], serving every capability.
// All handles of a node share its content.
type file struct {
	n      *node
	pos    int64
	closed bool
}

func (f *file) Read(p []byte) (int, error) {
	if f.closed {
		return 0, errClosed
	}
	if f.pos >= int64(len(f.n.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.n.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errClosed
	}

	end := f.pos + int64(len(p))
	if end > int64(len(f.n.data)) {
		f.n.data = resize(f.n.data, end)
	}

	n := copy(f.n.data[f.pos:], p)
	f.pos += int64(n)

	return n, nil
}

func (f *file) Sync() error {
	return nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	var pos int64

	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = int64(len(f.n.data)) + offset
	default:
		return f.pos, errBadWhence
	}
	if pos < 0 {
		return f.pos, errNegativePos
	}

	f.pos = pos

	return pos, nil
}

func (f *file) Offset() int64 {
	return f.pos
}

func (f *file) Size() int64 {
	return int64(len(f.n.data))
}

func (f *file) Bytes() []byte {
	return f.n.data
}

func (f *file) Resize(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: %d", errNegativePos, size)
	}
	f.n.data = resize(f.n.data, size)

	return nil
}

func (f *file) MapRead(begin, end int64) ([]byte, error) {
	if begin < 0 || begin > end || end > int64(len(f.n.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", errOutOfRange, begin, end, len(f.n.data))
	}

	return f.n.data[begin:end:end], nil
}

func (f *file) MapWrite(begin, end int64) ([]byte, error) {
	if begin < 0 || begin > end {
		return nil, fmt.Errorf("%w: [%d, %d)", errOutOfRange, begin, end)
	}
	if end > int64(len(f.n.data)) {
		f.n.data = resize(f.n.data, end)
	}

	return f.n.data[begin:end:end], nil
}

func (f *file) Close() error {
	f.closed = true

	return nil
}
