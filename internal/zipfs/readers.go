package zipfs

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

var (
	_ io.ReadCloser    = (*decompressingReader)(nil)
	_ vfs.RandomAccess = (*decompressingReader)(nil)
	_ vfs.ReadMap      = (*decompressingReader)(nil)
	_ vfs.ReadView     = storedReader{}

	errUnsupportedMethod = errors.New("unsupported compression method")
	errNegativeOffset    = errors.New("negative offset")
	errInvalidWhence     = errors.New("invalid whence")
	errOutOfRange        = errors.New("range out of bounds")
	errReaderClosed      = errors.New("reader already closed")
	errStoredSize        = errors.New("stored entry with differing sizes")
)

// decompressingReader serves an unmodified entry directly from the
// compressed byte range within the container.
//
// Seeking is lazy: the stream is only moved on the next read, forward by
// inflating into the void, backward by restarting the inflater from the
// start of the range. Stored entries that need no verification are served
// by slicing the range instead. When verifying, the CRC32 of the entry is
// checked once the stream reaches its end.
type decompressingReader struct {
	fsys *FS
	name string

	raw    []byte
	method uint16
	size   int64
	crc    uint32
	verify bool

	pos    int64 // logical position, may lie past the end
	srcPos int64 // position of the inflated stream

	inflater io.ReadCloser
	src      io.Reader
	hash     hash.Hash32
	verified bool
	closed   bool
}

// newDecompressingReader returns a reader over the archived entry e.
func newDecompressingReader(fsys *FS, e *Entry) (*decompressingReader, error) {
	switch e.Header.Method {
	case zip.Store, zip.Deflate:
	default:
		return nil, fmt.Errorf("%w: %d", errUnsupportedMethod, e.Header.Method)
	}

	view := fsys.view()
	end, ok := dataEnd(e.Offset, e.Header.CompressedSize64, len(view))
	if !ok {
		return nil, errEntryBounds
	}
	if e.Header.Method == zip.Store && e.Header.CompressedSize64 != e.Header.UncompressedSize64 {
		return nil, errStoredSize
	}

	return &decompressingReader{
		fsys:   fsys,
		name:   e.Header.Name,
		raw:    view[e.Offset:end:end],
		method: e.Header.Method,
		size:   int64(e.Header.UncompressedSize64),
		crc:    e.Header.CRC32,
		verify: e.Header.Method != zip.Store || fsys.Options.MustCRC32.Load(),
	}, nil
}

// direct returns true if reads can be served by slicing the raw range.
func (dr *decompressingReader) direct() bool {
	return dr.method == zip.Store && !dr.verify
}

// rewind restarts the stream at the start of the compressed range.
func (dr *decompressingReader) rewind() {
	if dr.srcPos != 0 || dr.src != nil {
		dr.fsys.Metrics.TotalReopenedEntries.Add(1)
	}

	rd := bytes.NewReader(dr.raw)

	var base io.Reader = rd
	if dr.method == zip.Deflate {
		if r, ok := dr.inflater.(flate.Resetter); !ok || r.Reset(rd, nil) != nil {
			dr.inflater = flate.NewReader(rd)
		}
		base = dr.inflater
	}

	if dr.hash == nil {
		dr.hash = crc32.NewIEEE()
	}
	dr.hash.Reset()

	dr.src = io.TeeReader(base, dr.hash)
	dr.srcPos = 0
	dr.verified = false
}

// forwardTo moves the stream to offset, which must not lie past the end.
func (dr *decompressingReader) forwardTo(offset int64) error {
	if dr.src == nil || offset < dr.srcPos {
		dr.rewind()
	}

	n, err := io.CopyN(io.Discard, dr.src, offset-dr.srcPos)
	dr.srcPos += n
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}

		return err //nolint:wrapcheck
	}

	return dr.check()
}

// check verifies the checksum once the stream reached the end.
func (dr *decompressingReader) check() error {
	if dr.srcPos < dr.size || dr.verified || !dr.verify {
		return nil
	}
	dr.verified = true

	if dr.hash.Sum32() != dr.crc {
		return zip.ErrChecksum
	}

	return nil
}

func (dr *decompressingReader) Read(p []byte) (int, error) {
	if dr.closed {
		return 0, errReaderClosed
	}
	if dr.pos >= dr.size {
		return 0, io.EOF
	}
	if remaining := dr.size - dr.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	if dr.direct() {
		n := copy(p, dr.raw[dr.pos:])
		dr.pos += int64(n)

		return n, nil
	}

	if dr.src == nil || dr.pos != dr.srcPos {
		if err := dr.forwardTo(dr.pos); err != nil {
			return 0, dr.fail(err)
		}
	}

	n, err := dr.src.Read(p)
	dr.srcPos += int64(n)
	dr.pos = dr.srcPos

	if errors.Is(err, io.EOF) {
		err = nil
		if n == 0 && dr.srcPos < dr.size {
			err = io.ErrUnexpectedEOF
		}
	}
	if err == nil {
		err = dr.check()
	}
	if err != nil {
		return n, dr.fail(err)
	}

	return n, nil
}

// fail reports a broken stream as a data error of the entry.
func (dr *decompressingReader) fail(err error) error {
	return vfs.WrapError(vfs.OpRead, dr.name, vfs.ErrData, err)
}

func (dr *decompressingReader) Seek(offset int64, whence int) (int64, error) {
	var pos int64

	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = dr.pos + offset
	case io.SeekEnd:
		pos = dr.size + offset
	default:
		return dr.pos, errInvalidWhence
	}
	if pos < 0 {
		return dr.pos, errNegativeOffset
	}

	dr.pos = pos

	return pos, nil
}

func (dr *decompressingReader) Offset() int64 {
	return dr.pos
}

func (dr *decompressingReader) Size() int64 {
	return dr.size
}

// MapRead returns [begin, end) of the entry. Only directly served entries
// are mapped without copying, all others are inflated into a new buffer.
func (dr *decompressingReader) MapRead(begin, end int64) ([]byte, error) {
	if begin < 0 || begin > end || end > dr.size {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", errOutOfRange, begin, end, dr.size)
	}
	if dr.direct() {
		return dr.raw[begin:end:end], nil
	}

	saved := dr.pos
	defer func() {
		dr.pos = saved
	}()

	dr.pos = begin
	buf := make([]byte, end-begin)
	if _, err := io.ReadFull(dr, buf); err != nil {
		return nil, err //nolint:wrapcheck
	}

	return buf, nil
}

func (dr *decompressingReader) Close() error {
	if dr.closed {
		return nil
	}
	dr.closed = true

	if dr.inflater != nil {
		return dr.inflater.Close() //nolint:wrapcheck
	}

	return nil
}

// storedReader additionally exposes the raw range of a directly served
// entry as its read view.
type storedReader struct {
	*decompressingReader
}

func (sr storedReader) Bytes() []byte {
	return sr.raw
}
