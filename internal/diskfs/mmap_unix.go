//go:build unix

package diskfs

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED) //nolint:wrapcheck
}

func munmap(data []byte) error {
	return unix.Munmap(data) //nolint:wrapcheck
}

func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return unix.Msync(data, unix.MS_SYNC) //nolint:wrapcheck
}
