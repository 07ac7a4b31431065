package vfs

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Capability is a set of byte-range I/O capabilities requested on open.
type Capability uint8

const (
	CapReader Capability = 1 << iota
	CapWriter
	CapRandomAccess
	CapReadView
	CapWriteView
	CapReadMap
	CapWriteMap
)

// CapWriting is the subset of capabilities that can modify a file.
const CapWriting = CapWriter | CapWriteView | CapWriteMap

var capNames = []struct {
	cap  Capability
	name string
}{
	{CapReader, "reader"},
	{CapWriter, "writer"},
	{CapRandomAccess, "random_access"},
	{CapReadView, "read_view"},
	{CapWriteView, "write_view"},
	{CapReadMap, "read_map"},
	{CapWriteMap, "write_map"},
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}

	var names []string
	for _, cn := range capNames {
		if c&cn.cap != 0 {
			names = append(names, cn.name)
		}
	}

	return strings.Join(names, "|")
}

// Has returns true if all capabilities of want are in c.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Writer is the sequential write capability.
type Writer interface {
	io.Writer
	Sync() error
}

// RandomAccess is a positionable sequence. Seeking past the end is legal.
type RandomAccess interface {
	io.Seeker
	Offset() int64
	Size() int64
}

// ReadView is a contiguous in-memory range bound to the backing file.
// The slice is valid until the handle is closed or the view is resized.
type ReadView interface {
	Bytes() []byte
}

// WriteView is a writable contiguous in-memory range of the backing file.
type WriteView interface {
	Bytes() []byte
	Resize(size int64) error
}

// ReadMap produces read views over [begin, end) of the backing file.
type ReadMap interface {
	MapRead(begin, end int64) ([]byte, error)
}

// WriteMap produces writable views over [begin, end) of the backing file,
// growing the file as needed.
type WriteMap interface {
	MapWrite(begin, end int64) ([]byte, error)
}

// Handle is an opened file bound to exactly the requested capabilities.
// Fields for capabilities that were not requested are nil.
type Handle struct {
	Reader       io.Reader
	Writer       Writer
	RandomAccess RandomAccess
	ReadView     ReadView
	WriteView    WriteView
	ReadMap      ReadMap
	WriteMap     WriteMap

	caps   Capability
	closer io.Closer
}

// Caps returns the capabilities the handle is bound to.
func (h *Handle) Caps() Capability {
	return h.caps
}

// Has returns true if the handle is bound to all capabilities of want.
func (h *Handle) Has(want Capability) bool {
	return h.caps.Has(want)
}

// Close releases the handle. It is safe to call more than once.
func (h *Handle) Close() error {
	if h.closer == nil {
		return nil
	}

	c := h.closer
	h.closer = nil

	return c.Close() //nolint:wrapcheck
}

// errMissingCapability is wrapped into [ErrUnsupportedInterface] failures.
var errMissingCapability = errors.New("missing capability")

// Bind assembles a [Handle] over impl that is bound to all of caps, or
// fails with [ErrUnsupportedInterface] naming the first unsatisfiable one.
// Nothing is bound on failure and closer is left untouched.
func Bind(impl any, caps Capability, closer io.Closer) (*Handle, error) {
	if caps == 0 {
		return nil, fmt.Errorf("%w: no capability requested", ErrInvalid)
	}

	h := &Handle{caps: caps, closer: closer}

	for _, cn := range capNames {
		if caps&cn.cap == 0 {
			continue
		}

		var ok bool
		switch cn.cap {
		case CapReader:
			h.Reader, ok = impl.(io.Reader)
		case CapWriter:
			h.Writer, ok = impl.(Writer)
		case CapRandomAccess:
			h.RandomAccess, ok = impl.(RandomAccess)
		case CapReadView:
			h.ReadView, ok = impl.(ReadView)
		case CapWriteView:
			h.WriteView, ok = impl.(WriteView)
		case CapReadMap:
			h.ReadMap, ok = impl.(ReadMap)
		case CapWriteMap:
			h.WriteMap, ok = impl.(WriteMap)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w %s", ErrUnsupportedInterface, errMissingCapability, cn.name)
		}
	}

	return h, nil
}
