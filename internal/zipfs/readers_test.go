package zipfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/desertwitch/zipvfs/internal/memfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

var testContent = bytes.Repeat([]byte("abcdefghij"), 100)

// corruptEntry flips a byte within the compressed data of name.
func corruptEntry(t *testing.T, data []byte, name string, at int64) []byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}

		off, err := f.DataOffset()
		require.NoError(t, err)

		broken := bytes.Clone(data)
		broken[off+at] ^= 0xff

		return broken
	}
	require.Failf(t, "missing entry", "%q is not in the archive", name)

	return nil
}

// Expectation: Seeking should be lazy and rewinding should restart the stream.
func Test_decompressingReader_SeekRewind_Success(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "f.txt", Content: testContent, Method: zip.Deflate},
	})
	_, fsys := testFS(t, data, testOptions(false))

	h, err := fsys.Open("f.txt", vfs.CapReader|vfs.CapRandomAccess, vfs.OpenExisting)
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, int64(len(testContent)), h.RandomAccess.Size())

	buf := make([]byte, 10)
	_, err = io.ReadFull(h.Reader, buf)
	require.NoError(t, err)
	require.Equal(t, testContent[:10], buf)

	pos, err := h.RandomAccess.Seek(500, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(500), pos)

	_, err = io.ReadFull(h.Reader, buf)
	require.NoError(t, err)
	require.Equal(t, testContent[500:510], buf)
	require.Zero(t, fsys.Metrics.TotalReopenedEntries.Load())

	_, err = h.RandomAccess.Seek(-505, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(5), h.RandomAccess.Offset())

	_, err = io.ReadFull(h.Reader, buf)
	require.NoError(t, err)
	require.Equal(t, testContent[5:15], buf)
	require.Equal(t, int64(1), fsys.Metrics.TotalReopenedEntries.Load())
}

// Expectation: Reads past the end should return EOF and bad seeks should fail.
func Test_decompressingReader_Bounds_Success(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "f.txt", Content: testContent, Method: zip.Deflate},
	})
	_, fsys := testFS(t, data, testOptions(false))

	h, err := fsys.Open("f.txt", vfs.CapReader|vfs.CapRandomAccess, vfs.OpenExisting)
	require.NoError(t, err)
	defer h.Close()

	pos, err := h.RandomAccess.Seek(10, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(len(testContent)+10), pos)

	n, err := h.Reader.Read(make([]byte, 10))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)

	_, err = h.RandomAccess.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, errNegativeOffset)

	_, err = h.RandomAccess.Seek(0, 42)
	require.ErrorIs(t, err, errInvalidWhence)

	_, err = h.RandomAccess.Seek(995, io.SeekStart)
	require.NoError(t, err)

	rest, err := io.ReadAll(h.Reader)
	require.NoError(t, err)
	require.Equal(t, testContent[995:], rest)
}

// Expectation: MapRead should return the range and leave the position alone.
func Test_decompressingReader_MapRead_Success(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "deflated.txt", Content: testContent, Method: zip.Deflate},
		{Path: "stored.txt", Content: testContent, Method: zip.Store},
	})
	_, fsys := testFS(t, data, testOptions(false))

	for _, name := range []string{"deflated.txt", "stored.txt"} {
		h, err := fsys.Open(name, vfs.CapReadMap|vfs.CapRandomAccess, vfs.OpenExisting)
		require.NoError(t, err, name)

		_, err = h.RandomAccess.Seek(42, io.SeekStart)
		require.NoError(t, err)

		b, err := h.ReadMap.MapRead(100, 120)
		require.NoError(t, err, name)
		require.Equal(t, testContent[100:120], b, name)
		require.Equal(t, int64(42), h.RandomAccess.Offset(), name)

		_, err = h.ReadMap.MapRead(10, int64(len(testContent))+1)
		require.ErrorIs(t, err, errOutOfRange, name)

		require.NoError(t, h.Close())
	}
}

// Expectation: Stored entries should expose a read view unless verifying.
func Test_storedReader_ReadView_Success(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "stored.txt", Content: testContent, Method: zip.Store},
	})
	_, fsys := testFS(t, data, testOptions(false))

	h, err := fsys.Open("stored.txt", vfs.CapReadView, vfs.OpenExisting)
	require.NoError(t, err)
	require.Equal(t, testContent, h.ReadView.Bytes())
	require.NoError(t, h.Close())

	fsys.Options.MustCRC32.Store(true)

	_, err = fsys.Open("stored.txt", vfs.CapReadView, vfs.OpenExisting)
	require.ErrorIs(t, err, vfs.ErrUnsupportedInterface)
}

// Expectation: A checksum mismatch should only be detected when verifying.
func Test_decompressingReader_Checksum_Error(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "stored.txt", Content: testContent, Method: zip.Store},
	})
	data = corruptEntry(t, data, "stored.txt", 7)

	_, fsys := testFS(t, data, testOptions(false))

	content, err := vfs.ReadFile(fsys, "stored.txt")
	require.NoError(t, err)
	require.NotEqual(t, testContent, content)

	fsys.Options.MustCRC32.Store(true)

	_, err = vfs.ReadFile(fsys, "stored.txt")
	require.ErrorIs(t, err, vfs.ErrData)
	require.ErrorIs(t, err, zip.ErrChecksum)
}

// Expectation: A broken compressed stream should be a data error.
func Test_decompressingReader_CorruptStream_Error(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "f.txt", Content: testContent, Method: zip.Deflate},
	})
	data = corruptEntry(t, data, "f.txt", 3)

	_, fsys := testFS(t, data, testOptions(true))

	_, err := vfs.ReadFile(fsys, "f.txt")
	require.ErrorIs(t, err, vfs.ErrData)

	require.Error(t, fsys.Truncate("f.txt", 1))
	e, _ := fsys.Entry("f.txt")
	require.Empty(t, e.CacheName)

	cached, err := fsys.Options.Cache.Children("cache/zip")
	require.NoError(t, err)
	require.Empty(t, cached)
}

// Expectation: A closed reader should refuse further reads.
func Test_decompressingReader_Closed_Error(t *testing.T) {
	t.Parallel()

	data := createTestZip(t, "", []testEntry{
		{Path: "f.txt", Content: testContent, Method: zip.Deflate},
	})
	_, fsys := testFS(t, data, testOptions(false))

	e, ok := fsys.index.get("f.txt")
	require.True(t, ok)

	dr, err := newDecompressingReader(fsys, e)
	require.NoError(t, err)
	require.NoError(t, dr.Close())
	require.NoError(t, dr.Close())

	_, err = dr.Read(make([]byte, 1))
	require.ErrorIs(t, err, errReaderClosed)
}

// Expectation: Entries with unsupported methods should not be opened.
func Test_newDecompressingReader_Method_Error(t *testing.T) {
	t.Parallel()

	fsys := &FS{
		Options:   DefaultOptions(),
		Metrics:   &Metrics{},
		container: mustViewHandle(t, nil),
	}

	_, err := newDecompressingReader(fsys, &Entry{Header: zip.FileHeader{Method: 99}})
	require.ErrorIs(t, err, errUnsupportedMethod)

	_, err = newDecompressingReader(fsys, &Entry{Header: zip.FileHeader{
		Method:             zip.Store,
		CompressedSize64:   1,
		UncompressedSize64: 1,
	}})
	require.ErrorIs(t, err, errEntryBounds)
}

func mustViewHandle(t *testing.T, data []byte) *vfs.Handle {
	t.Helper()

	store := memfs.New()
	require.NoError(t, vfs.WriteFile(store, "view", data))

	h, err := store.Open("view", vfs.CapReadView, vfs.OpenExisting)
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Close()
	})

	return h
}
