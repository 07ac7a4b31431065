package zipfs

import (
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

func (fsys *FS) State(path string) vfs.State {
	vfs.MustRelative(vfs.OpState, path)

	st := vfs.State{Node: vfs.Node{Path: path, FS: fsys}}
	if !vfs.IsNormalized(path) {
		st.Kind = vfs.KindInvalid

		return st
	}

	e, ok := fsys.index.get(path)
	if !ok {
		st.Kind = vfs.KindNotFound

		return st
	}

	st.Kind = e.Kind
	if e.Kind == vfs.KindRegular {
		st.Size = fsys.sizeOf(e)
	}

	return st
}

func (fsys *FS) sizeOf(e *Entry) int64 {
	if e.CacheName != "" {
		return fsys.Options.Cache.State(e.CacheName).Size
	}

	return int64(e.Header.UncompressedSize64)
}

func (fsys *FS) Children(path string) ([]vfs.Node, error) {
	vfs.MustRelative(vfs.OpChildren, path)

	if !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrInvalid)
	}

	e, ok := fsys.index.get(path)
	if !ok {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrNotFound)
	}
	if e.Kind != vfs.KindDirectory {
		return nil, vfs.NewError(vfs.OpChildren, path, vfs.ErrNotDir)
	}

	keys := fsys.index.children(path)
	nodes := make([]vfs.Node, 0, len(keys))
	for _, k := range keys {
		nodes = append(nodes, vfs.Node{Path: k, FS: fsys})
	}

	return nodes, nil
}

// mutable fails for a read-only [FS].
func (fsys *FS) mutable(op, path string) error {
	if fsys.readOnly {
		return vfs.NewError(op, path, vfs.ErrPermission)
	}

	return nil
}

// parentDir verifies the parent of path is a directory of the index.
func (fsys *FS) parentDir(op, path string) error {
	dir, _ := vfs.Split(path)

	p, ok := fsys.index.get(dir)
	if !ok {
		return vfs.NewError(op, path, vfs.ErrNotFound)
	}
	if p.Kind != vfs.KindDirectory {
		return vfs.NewError(op, path, vfs.ErrNotDir)
	}

	return nil
}

// CreateDir adds a directory to the index, written as explicit record.
func (fsys *FS) CreateDir(path string) error {
	vfs.MustRelative(vfs.OpCreateDir, path)

	if path == "" || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrInvalid)
	}
	if err := fsys.mutable(vfs.OpCreateDir, path); err != nil {
		return err
	}
	if _, ok := fsys.index.get(path); ok {
		return vfs.NewError(vfs.OpCreateDir, path, vfs.ErrExist)
	}
	if err := fsys.parentDir(vfs.OpCreateDir, path); err != nil {
		return err
	}

	fsys.index.put(path, newDirEntry(path, true))

	return nil
}

// Remove drops an entry from the index. The container is left untouched
// until the next [FS.Sync].
func (fsys *FS) Remove(path string) error {
	vfs.MustRelative(vfs.OpRemove, path)

	if path == "" {
		return vfs.RemoveRoot(fsys)
	}
	if !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrInvalid)
	}
	if err := fsys.mutable(vfs.OpRemove, path); err != nil {
		return err
	}

	e, ok := fsys.index.get(path)
	if !ok {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrNotFound)
	}
	if e.Kind == vfs.KindDirectory && fsys.index.hasChildren(path) {
		return vfs.NewError(vfs.OpRemove, path, vfs.ErrNotEmpty)
	}

	if err := fsys.dropCache(e); err != nil {
		return vfs.Fail(vfs.OpRemove, path, err)
	}
	fsys.index.delete(path)

	return nil
}

// Truncate resizes a regular entry, extracting it first.
func (fsys *FS) Truncate(path string, size int64) error {
	vfs.MustRelative(vfs.OpTruncate, path)

	if size < 0 || !vfs.IsNormalized(path) {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrInvalid)
	}
	if err := fsys.mutable(vfs.OpTruncate, path); err != nil {
		return err
	}

	e, ok := fsys.index.get(path)
	if !ok {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotFound)
	}
	if e.Kind != vfs.KindRegular {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrNotRegular)
	}
	if fsys.Options.Cache == nil {
		return vfs.NewError(vfs.OpTruncate, path, vfs.ErrPermission)
	}

	if err := fsys.extract(path, e); err != nil {
		return err
	}
	if err := fsys.Options.Cache.Truncate(e.CacheName, size); err != nil {
		return vfs.Fail(vfs.OpTruncate, path, err)
	}
	e.Dirty = true

	return nil
}

// Copy duplicates a regular entry. An unmodified source is shared with the
// copy, so both are copied verbatim from the container on [FS.Sync].
func (fsys *FS) Copy(from, to string) error {
	vfs.MustRelative(vfs.OpCopy, from)
	vfs.MustRelative(vfs.OpCopy, to)

	if !vfs.IsNormalized(from) {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrInvalid)
	}
	if to == "" || !vfs.IsNormalized(to) {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrInvalid)
	}
	if err := fsys.mutable(vfs.OpCopy, to); err != nil {
		return err
	}

	src, ok := fsys.index.get(from)
	if !ok {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrNotFound)
	}
	if src.Kind != vfs.KindRegular {
		return vfs.NewError(vfs.OpCopy, from, vfs.ErrNotRegular)
	}
	if from == to {
		return nil
	}

	dst, exists := fsys.index.get(to)
	if exists && dst.Kind != vfs.KindRegular {
		return vfs.NewError(vfs.OpCopy, to, vfs.ErrNotRegular)
	}
	if err := fsys.parentDir(vfs.OpCopy, to); err != nil {
		return err
	}

	e := &Entry{
		Header:   src.Header,
		Offset:   src.Offset,
		Kind:     vfs.KindRegular,
		archived: src.archived,
	}
	e.Header.Name = to

	if src.CacheName != "" {
		name := fsys.cacheName()
		if err := fsys.Options.Cache.Copy(src.CacheName, name); err != nil {
			return vfs.Fail(vfs.OpCopy, to, err)
		}
		e.CacheName = name
		e.Dirty = true
	}

	if exists {
		if err := fsys.dropCache(dst); err != nil {
			return vfs.Fail(vfs.OpCopy, to, err)
		}
	}
	fsys.index.put(to, e)

	return nil
}

// Open opens or creates a regular entry.
//
// Requests including a writing capability extract the entry into the cache
// first, which then serves all capabilities. Pure reads of an unmodified
// entry are served by inflating it straight from the container.
func (fsys *FS) Open(path string, caps vfs.Capability, flag vfs.OpenFlag) (*vfs.Handle, error) {
	vfs.MustRelative(vfs.OpOpen, path)

	if caps == 0 || path == "" || !vfs.IsNormalized(path) {
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrInvalid)
	}

	e, exists := fsys.index.get(path)
	switch {
	case exists && e.Kind != vfs.KindRegular:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrNotRegular)
	case exists && flag == vfs.CreateNew:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrExist)
	case !exists && flag == vfs.OpenExisting:
		return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrNotFound)
	}

	if !exists || caps&vfs.CapWriting != 0 {
		if err := fsys.mutable(vfs.OpOpen, path); err != nil {
			return nil, err
		}
		if fsys.Options.Cache == nil {
			return nil, vfs.NewError(vfs.OpOpen, path, vfs.ErrUnsupportedInterface)
		}
	}

	if !exists {
		if err := fsys.parentDir(vfs.OpOpen, path); err != nil {
			return nil, err
		}

		e = newFileEntry(path)
		if err := fsys.extract(path, e); err != nil {
			return nil, err
		}
	} else if caps&vfs.CapWriting != 0 {
		if err := fsys.extract(path, e); err != nil {
			return nil, err
		}
	}

	if e.CacheName != "" {
		h, err := fsys.Options.Cache.Open(e.CacheName, caps, vfs.OpenExisting)
		if err != nil {
			if !exists {
				_ = fsys.dropCache(e)
			}

			return nil, vfs.Fail(vfs.OpOpen, path, err)
		}
		if !exists {
			fsys.index.put(path, e)
		}

		return h, nil
	}

	return fsys.openArchived(path, e, caps)
}

func (fsys *FS) openArchived(path string, e *Entry, caps vfs.Capability) (*vfs.Handle, error) {
	dr, err := newDecompressingReader(fsys, e)
	if err != nil {
		return nil, vfs.WrapError(vfs.OpOpen, path, vfs.ErrData, err)
	}

	var impl any = dr
	if dr.direct() {
		impl = storedReader{dr}
	}

	h, err := vfs.Bind(impl, caps, dr)
	if err != nil {
		dr.Close()

		return nil, vfs.Fail(vfs.OpOpen, path, err)
	}

	return h, nil
}

func newFileEntry(key string) *Entry {
	e := &Entry{
		Header: zip.FileHeader{
			Name:     key,
			Method:   zip.Deflate,
			Modified: time.Now(),
		},
		Kind: vfs.KindRegular,
	}
	e.Header.SetMode(fs.FileMode(filePerm))

	return e
}

func (fsys *FS) cacheName() string {
	return vfs.Join(fsys.Options.CacheDir, uuid.NewString())
}

// extract materializes e into a fresh cache object and marks it dirty.
// Entries that are already materialized are left as they are.
func (fsys *FS) extract(path string, e *Entry) error {
	if e.CacheName != "" {
		return nil
	}

	start := time.Now()
	cache := fsys.Options.Cache
	name := fsys.cacheName()

	h, err := cache.Open(name, vfs.CapWriter, vfs.CreateNew)
	if err != nil {
		return vfs.Fail(vfs.OpOpen, path, err)
	}

	n, err := fsys.extractTo(h, e)
	if cerr := h.Close(); err == nil && cerr != nil {
		err = vfs.WrapError(vfs.OpWrite, path, vfs.ErrSystem, cerr)
	}
	if err != nil {
		_ = cache.Remove(name)

		return vfs.WithPath(err, path)
	}

	e.CacheName = name
	e.Dirty = true

	fsys.Metrics.TotalExtractCount.Add(1)
	fsys.Metrics.TotalExtractBytes.Add(n)
	fsys.Metrics.TotalExtractTime.Add(time.Since(start).Nanoseconds())

	return nil
}

func (fsys *FS) extractTo(h *vfs.Handle, e *Entry) (int64, error) {
	if !e.archived {
		return 0, nil
	}

	dr, err := newDecompressingReader(fsys, e)
	if err != nil {
		return 0, vfs.WrapError(vfs.OpOpen, "", vfs.ErrData, err)
	}
	defer dr.Close()

	n, err := io.Copy(h.Writer, dr)
	if err != nil {
		return n, vfs.Fail(vfs.OpRead, "", err)
	}
	if n != dr.Size() {
		return n, vfs.WrapError(vfs.OpRead, "", vfs.ErrSystem,
			fmt.Errorf("short extract: %d of %d bytes", n, dr.Size()))
	}
	if err := h.Writer.Sync(); err != nil {
		return n, vfs.WrapError(vfs.OpWrite, "", vfs.ErrSystem, err)
	}

	return n, nil
}

// dropCache removes the materialized content of e, if any.
func (fsys *FS) dropCache(e *Entry) error {
	if e.CacheName == "" {
		return nil
	}

	if err := fsys.Options.Cache.Remove(e.CacheName); err != nil && vfs.CodeOf(err) != vfs.ErrNotFound {
		return err //nolint:wrapcheck
	}
	e.CacheName = ""

	return nil
}
