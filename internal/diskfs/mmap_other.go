//go:build !unix

package diskfs

import (
	"errors"
	"os"
)

func mmap(_ *os.File, _ int, _ bool) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

func munmap(_ []byte) error {
	return errors.ErrUnsupported
}

func msync(_ []byte) error {
	return errors.ErrUnsupported
}
