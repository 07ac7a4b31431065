package diskfs

import (
	"errors"
	"fmt"
	"io"
	"os"

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

	errOutOfRange = errors.New("range out of bounds")
	errReadOnly   = errors.New("file not opened for writing")
)

// file is an opened host file. Its mapping covers the whole file and is
// (re)established lazily whenever a view or map needs it.
type file struct {
	f        *os.File
	writable bool
	data     []byte
	mapped   bool
}

func (df *file) Read(p []byte) (int, error) {
	return df.f.Read(p) //nolint:wrapcheck
}

func (df *file) Write(p []byte) (int, error) {
	return df.f.Write(p) //nolint:wrapcheck
}

func (df *file) Seek(offset int64, whence int) (int64, error) {
	return df.f.Seek(offset, whence) //nolint:wrapcheck
}

func (df *file) Offset() int64 {
	off, err := df.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}

	return off
}

func (df *file) Size() int64 {
	fi, err := df.f.Stat()
	if err != nil {
		return 0
	}

	return fi.Size()
}

func (df *file) Sync() error {
	if df.mapped && df.writable {
		if err := msync(df.data); err != nil {
			return fmt.Errorf("failed to msync: %w", err)
		}
	}

	return df.f.Sync() //nolint:wrapcheck
}

// Bytes returns the mapping of the file as of the last (re)map.
func (df *file) Bytes() []byte {
	return df.data
}

func (df *file) Resize(size int64) error {
	if !df.writable {
		return errReadOnly
	}
	if err := df.unmap(); err != nil {
		return err
	}
	if err := df.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate: %w", err)
	}

	return df.remap()
}

func (df *file) MapRead(begin, end int64) ([]byte, error) {
	if err := df.ensureMapped(); err != nil {
		return nil, err
	}
	if begin < 0 || begin > end || end > int64(len(df.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", errOutOfRange, begin, end, len(df.data))
	}

	return df.data[begin:end:end], nil
}

func (df *file) MapWrite(begin, end int64) ([]byte, error) {
	if !df.writable {
		return nil, errReadOnly
	}
	if begin < 0 || begin > end {
		return nil, fmt.Errorf("%w: [%d, %d)", errOutOfRange, begin, end)
	}
	if end > df.Size() {
		if err := df.Resize(end); err != nil {
			return nil, err
		}
	} else if err := df.ensureMapped(); err != nil {
		return nil, err
	}

	return df.data[begin:end:end], nil
}

// ensureMapped remaps the file if it was never mapped or changed size
// through the sequential interfaces since.
func (df *file) ensureMapped() error {
	if df.mapped && int64(len(df.data)) == df.Size() {
		return nil
	}
	if err := df.unmap(); err != nil {
		return err
	}

	return df.remap()
}

func (df *file) remap() error {
	size := df.Size()
	if size == 0 {
		df.data = []byte{}
		df.mapped = true

		return nil
	}

	data, err := mmap(df.f, int(size), df.writable)
	if err != nil {
		return fmt.Errorf("failed to mmap: %w", err)
	}

	df.data = data
	df.mapped = true

	return nil
}

func (df *file) unmap() error {
	if !df.mapped {
		return nil
	}

	data := df.data
	df.data = nil
	df.mapped = false

	if len(data) == 0 {
		return nil
	}
	if err := munmap(data); err != nil {
		return fmt.Errorf("failed to munmap: %w", err)
	}

	return nil
}

func (df *file) Close() error {
	uerr := df.unmap()
	cerr := df.f.Close()

	return errors.Join(uerr, cerr)
}
