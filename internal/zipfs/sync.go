package zipfs

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// incompressible are formats that do not shrink any further with DEFLATE.
var incompressible = []string{
	"application/zip",
	"application/gzip",
	"application/x-bzip2",
	"application/x-xz",
	"application/x-7z-compressed",
	"application/x-rar-compressed",
	"application/zstd",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"audio/mpeg",
	"audio/ogg",
	"video/mp4",
	"video/webm",
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err //nolint:wrapcheck
}

// spool holds a container rewrite until it is complete. It lives in the
// cache if there is one, in memory otherwise.
type spool struct {
	fsys *FS
	name string
	h    *vfs.Handle
	buf  bytes.Buffer
	cw   countingWriter
}

func (fsys *FS) newSpool() (*spool, error) {
	sp := &spool{fsys: fsys}

	if cache := fsys.Options.Cache; cache != nil {
		sp.name = fsys.cacheName()

		h, err := cache.Open(sp.name, vfs.CapReader|vfs.CapWriter|vfs.CapRandomAccess, vfs.CreateNew)
		if err != nil {
			return nil, vfs.Fail(vfs.OpSync, "", err)
		}
		sp.h = h
		sp.cw.w = h.Writer
	} else {
		sp.cw.w = &sp.buf
	}

	return sp, nil
}

// copyTo fills dst, which must be exactly as large as the spool.
func (sp *spool) copyTo(dst []byte) error {
	if sp.h == nil {
		copy(dst, sp.buf.Bytes())

		return nil
	}

	if _, err := sp.h.RandomAccess.Seek(0, io.SeekStart); err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := io.ReadFull(sp.h.Reader, dst); err != nil {
		return err //nolint:wrapcheck
	}

	return nil
}

func (sp *spool) release() {
	if sp.h == nil {
		return
	}

	sp.h.Close()
	_ = sp.fsys.Options.Cache.Remove(sp.name)
}

// Sync rewrites the container from the index, in key order.
//
// Directories are written as explicit records only if forced to. Without
// [Options.ForceStoreDirs], an implicit directory whose children were all
// removed has no record to be written, so it is gone once the index is
// reloaded from the new container. Modified
// entries are recompressed from the cache, all others have their compressed
// bytes copied verbatim from the old container. The rewrite goes to a spool
// and only replaces the container once it fully succeeded. The index is
// then reloaded from the new container and the cache objects of all
// formerly modified entries are removed.
//
// Handles opened on the [FS] must be closed before calling Sync.
// Sync is a no-op for a read-only [FS].
func (fsys *FS) Sync() error {
	if fsys.readOnly {
		return nil
	}

	start := time.Now()

	sp, err := fsys.newSpool()
	if err != nil {
		return err
	}
	defer sp.release()

	consumed, err := fsys.rewrite(&sp.cw)
	if err != nil {
		return err
	}

	if err := fsys.replace(sp); err != nil {
		return err
	}

	if err := fsys.load(); err != nil {
		return vfs.Fail(vfs.OpSync, "", err)
	}

	for _, name := range consumed {
		_ = fsys.Options.Cache.Remove(name)
	}

	fsys.Metrics.TotalSyncCount.Add(1)
	fsys.Metrics.TotalSyncTime.Add(time.Since(start).Nanoseconds())

	return nil
}

// rewrite writes the new container to w and returns the cache objects
// that are consumed by it.
func (fsys *FS) rewrite(w io.Writer) ([]string, error) {
	zw := zip.NewWriter(w)

	level := fsys.Options.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	if fsys.comment != "" {
		if err := zw.SetComment(fsys.comment); err != nil {
			return nil, vfs.WrapError(vfs.OpSync, "", vfs.ErrSystem, err)
		}
	}

	view := fsys.view()

	var consumed []string
	for _, key := range fsys.index.keys {
		e, _ := fsys.index.get(key)

		var err error
		switch {
		case e.Kind == vfs.KindDirectory:
			if !e.ForceStore {
				continue
			}
			err = fsys.writeDir(zw, key, e, view)

		case e.CacheName != "":
			err = fsys.writeDirty(zw, key, e)
			consumed = append(consumed, e.CacheName)

		default:
			err = fsys.writeRaw(zw, key, e, view)
		}
		if err != nil {
			return nil, vfs.WithPath(err, key)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, vfs.WrapError(vfs.OpSync, "", vfs.ErrSystem, err)
	}

	return consumed, nil
}

// recordName returns the name key is written as. A record keeps the name
// it was loaded with as long as it still normalizes to its key.
func recordName(key string, e *Entry) string {
	if n, err := normalizeName(e.Header.Name); err == nil && n == key {
		return e.Header.Name
	}
	if e.Kind == vfs.KindDirectory {
		return key + "/"
	}

	return key
}

func (fsys *FS) writeDir(zw *zip.Writer, key string, e *Entry, view []byte) error {
	if e.archived {
		return fsys.writeRaw(zw, key, e, view)
	}

	fh := e.Header
	fh.Name = key + "/"

	if _, err := zw.CreateHeader(&fh); err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}

	return nil
}

func (fsys *FS) writeRaw(zw *zip.Writer, key string, e *Entry, view []byte) error {
	end, ok := dataEnd(e.Offset, e.Header.CompressedSize64, len(view))
	if !e.archived || !ok {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, errEntryBounds)
	}

	fh := e.Header
	fh.Name = recordName(key, e)

	w, err := zw.CreateRaw(&fh)
	if err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}

	n, err := w.Write(view[e.Offset:end])
	if err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}

	fsys.Metrics.TotalRawCopyBytes.Add(int64(n))

	return nil
}

func (fsys *FS) writeDirty(zw *zip.Writer, key string, e *Entry) error {
	cache := fsys.Options.Cache

	st := cache.State(e.CacheName)
	if st.Kind != vfs.KindRegular {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem,
			fmt.Errorf("cache object %q is missing", e.CacheName))
	}

	h, err := cache.Open(e.CacheName, vfs.CapReader|vfs.CapRandomAccess, vfs.OpenExisting)
	if err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}
	defer h.Close()

	method := zip.Deflate
	if fsys.Options.StoreIncompressible && st.Size > 0 {
		if isIncompressible(h.Reader) {
			method = zip.Store
		}
		if _, err := h.RandomAccess.Seek(0, io.SeekStart); err != nil {
			return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
		}
	}

	fh := zip.FileHeader{
		Name:           recordName(key, e),
		Comment:        e.Header.Comment,
		Method:         method,
		Modified:       time.Now(),
		ExternalAttrs:  e.Header.ExternalAttrs,
		CreatorVersion: e.Header.CreatorVersion,
	}

	w, err := zw.CreateHeader(&fh)
	if err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}

	n, err := io.Copy(w, h.Reader)
	if err != nil {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem, err)
	}
	if n != st.Size {
		return vfs.WrapError(vfs.OpSync, key, vfs.ErrSystem,
			fmt.Errorf("short read: %d of %d bytes", n, st.Size))
	}

	fsys.Metrics.TotalRecompressBytes.Add(n)

	return nil
}

func isIncompressible(r io.Reader) bool {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return false
	}

	for m := mt; m != nil; m = m.Parent() {
		if slices.ContainsFunc(incompressible, m.Is) {
			return true
		}
	}

	return false
}

// replace swaps the container content for the finished rewrite.
func (fsys *FS) replace(sp *spool) error {
	wv := fsys.container.WriteView

	if err := wv.Resize(sp.cw.n); err != nil {
		return vfs.WrapError(vfs.OpSync, "", vfs.ErrSystem, err)
	}
	if err := sp.copyTo(wv.Bytes()); err != nil {
		return vfs.WrapError(vfs.OpSync, "", vfs.ErrSystem, err)
	}

	if s, ok := wv.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return vfs.WrapError(vfs.OpSync, "", vfs.ErrSystem, err)
		}
	}

	return nil
}
