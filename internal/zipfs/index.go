package zipfs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/klauspost/compress/zip"
)

const msdosDirAttr = 0x10

var (
	errEscapingName  = errors.New("entry name escapes the archive root")
	errKindConflict  = errors.New("entry is both a file and a directory")
	errEntryBounds   = errors.New("entry data exceeds the container")
	errEmptyDirEntry = errors.New("directory entry without a name")
)

// Entry is the in-memory record of one archive entry and of its
// materialization state.
type Entry struct {
	// Header is the central directory record the entry was loaded from,
	// or the template of the record it will be written as.
	Header zip.FileHeader

	// Offset is where the compressed data starts within the container.
	Offset int64

	// CacheName is the path of the materialized content within the cache,
	// empty until the entry was extracted.
	CacheName string

	Kind vfs.FileKind

	// Dirty is set while the cache holds content newer than the archive.
	Dirty bool

	// ForceStore makes a directory be written as an explicit record.
	ForceStore bool

	// archived is set while Header and Offset describe data in the container.
	archived bool
}

// index is the set of entries, ordered byte-wise by their normalized paths.
// Since '0' directly follows '/', the descendants of a directory d occupy
// exactly the key range [d+"/", d+"0").
type index struct {
	keys    []string
	entries map[string]*Entry
}

func newIndex() *index {
	return &index{
		entries: map[string]*Entry{
			"": {Kind: vfs.KindDirectory},
		},
	}
}

func (ix *index) get(key string) (*Entry, bool) {
	e, ok := ix.entries[key]

	return e, ok
}

func (ix *index) put(key string, e *Entry) {
	if _, ok := ix.entries[key]; !ok {
		i, _ := slices.BinarySearch(ix.keys, key)
		ix.keys = slices.Insert(ix.keys, i, key)
	}
	ix.entries[key] = e
}

func (ix *index) delete(key string) {
	if i, ok := slices.BinarySearch(ix.keys, key); ok {
		ix.keys = slices.Delete(ix.keys, i, i+1)
	}
	delete(ix.entries, key)
}

// descendants returns the keys beneath dir, in order.
func (ix *index) descendants(dir string) []string {
	if dir == "" {
		return ix.keys
	}

	lo, _ := slices.BinarySearch(ix.keys, dir+"/")
	hi, _ := slices.BinarySearch(ix.keys, dir+"0")

	return ix.keys[lo:hi]
}

// children returns the keys directly beneath dir, in order.
func (ix *index) children(dir string) []string {
	skip := 0
	if dir != "" {
		skip = len(dir) + 1
	}

	var keys []string
	for _, k := range ix.descendants(dir) {
		if !strings.Contains(k[skip:], "/") {
			keys = append(keys, k)
		}
	}

	return keys
}

func (ix *index) hasChildren(dir string) bool {
	return len(ix.descendants(dir)) > 0
}

// normalizeName returns the index key of an archive entry name.
// An empty key denotes the archive root.
func normalizeName(name string) (string, error) {
	name = strings.TrimLeft(name, "/")
	name = strings.TrimSuffix(name, "/")

	for seg := range strings.SplitSeq(name, "/") {
		if seg == ".." {
			return "", errEscapingName
		}
	}

	return path.Clean("/" + name)[1:], nil
}

func isDirRecord(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") ||
		f.ExternalAttrs&msdosDirAttr != 0 ||
		f.Mode().IsDir()
}

// parse builds the index of the container in view. Any inconsistency
// is a data error, leaving the caller without a usable index.
func parse(view []byte, forceStoreDirs bool) (*index, string, error) {
	ix := newIndex()

	if len(view) == 0 {
		return ix, "", nil
	}

	zr, err := zip.NewReader(bytes.NewReader(view), int64(len(view)))
	if zr == nil {
		return nil, "", fmt.Errorf("failed to read central directory: %w", err)
	}

	for _, f := range zr.File {
		key, err := normalizeName(f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("%q: %w", f.Name, err)
		}

		off, err := f.DataOffset()
		if err != nil {
			return nil, "", fmt.Errorf("%q: failed to read local header: %w", f.Name, err)
		}
		if _, ok := dataEnd(off, f.CompressedSize64, len(view)); !ok || f.UncompressedSize64 > math.MaxInt64 {
			return nil, "", fmt.Errorf("%q: %w", f.Name, errEntryBounds)
		}

		isDir := isDirRecord(f)
		if key == "" {
			if !isDir {
				return nil, "", fmt.Errorf("%q: %w", f.Name, errEmptyDirEntry)
			}

			continue
		}

		if err := ix.ensureParents(key, forceStoreDirs); err != nil {
			return nil, "", fmt.Errorf("%q: %w", f.Name, err)
		}

		e := &Entry{
			Header:   f.FileHeader,
			Offset:   off,
			Kind:     vfs.KindRegular,
			archived: true,
		}
		if isDir {
			e.Kind = vfs.KindDirectory
			e.ForceStore = true
		}

		if prev, ok := ix.get(key); ok && prev.Kind != e.Kind {
			return nil, "", fmt.Errorf("%q: %w", f.Name, errKindConflict)
		}
		ix.put(key, e)
	}

	return ix, zr.Comment, nil
}

// dataEnd returns the end of the compressed range starting at off, or false
// if the range does not lie within a view of viewLen bytes.
func dataEnd(off int64, size uint64, viewLen int) (int64, bool) {
	if off < 0 || off > int64(viewLen) || size > uint64(int64(viewLen)-off) {
		return 0, false
	}

	return off + int64(size), true
}

// ensureParents synthesizes the missing ancestor directories of key.
func (ix *index) ensureParents(key string, forceStore bool) error {
	dir, _ := vfs.Split(key)
	if dir == "" {
		return nil
	}

	if e, ok := ix.get(dir); ok {
		if e.Kind != vfs.KindDirectory {
			return errKindConflict
		}

		return nil
	}

	if err := ix.ensureParents(dir, forceStore); err != nil {
		return err
	}
	ix.put(dir, newDirEntry(dir, forceStore))

	return nil
}

func newDirEntry(key string, forceStore bool) *Entry {
	e := &Entry{
		Header:     zip.FileHeader{Name: key + "/", Method: zip.Store},
		Kind:       vfs.KindDirectory,
		ForceStore: forceStore,
	}
	e.Header.SetMode(fs.ModeDir | dirPerm)

	return e
}
