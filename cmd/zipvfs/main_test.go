package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertwitch/zipvfs/internal/config"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type testFile struct {
	name    string
	content string
}

// createTestArchive writes a deflated archive of files into a new
// temporary directory and returns its path.
func createTestArchive(t *testing.T, files ...testFile) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, file := range files {
		header := &zip.FileHeader{
			Name:     file.name,
			Method:   zip.Deflate,
			Modified: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		header.SetMode(0o644)

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)

		_, err = io.WriteString(w, file.content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return path
}

// archiveContents returns all files of the archive at path by name.
func archiveContents(t *testing.T, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		require.NoError(t, err)

		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)

		out[f.Name] = string(data)
	}

	return out
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := rootCmd(config.Default(), strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return stdout.String(), err
}

func defaultArchive(t *testing.T) string {
	t.Helper()

	return createTestArchive(t,
		testFile{"a/b.txt", "0123456789"},
		testFile{"hello.txt", "hello"},
	)
}

// Expectation: ls should list the directory, directories marked by a slash.
func Test_lsCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "ls", archive)
	require.NoError(t, err)
	require.Equal(t, "a/\nhello.txt\n", out)

	out, err = execute(t, "", "ls", archive, "a")
	require.NoError(t, err)
	require.Equal(t, "b.txt\n", out)
}

// Expectation: ls should print kinds and sizes, and quote names when asked.
func Test_lsCmd_LongQuoted_Success(t *testing.T) {
	t.Parallel()
	archive := createTestArchive(t, testFile{"my file.txt", "content"})

	out, err := execute(t, "", "ls", "-l", "-q", archive)
	require.NoError(t, err)
	require.Contains(t, out, "regular")
	require.Contains(t, out, " 7  ")
	require.Contains(t, out, "'my file.txt'")
}

// Expectation: ls should fail on a path that is not a directory.
func Test_lsCmd_NotDir_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "ls", archive, "hello.txt")
	require.ErrorIs(t, err, vfs.ErrNotDir)
}

// Expectation: cat should print the decompressed contents of all files.
func Test_catCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "cat", archive, "/hello.txt", "a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "hello0123456789", out)
}

// Expectation: cat should fail on a missing file.
func Test_catCmd_NotFound_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "cat", archive, "missing.txt")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

// Expectation: stat should print the state along with the archive record.
func Test_statCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "stat", archive, "a/b.txt")
	require.NoError(t, err)

	require.Contains(t, out, "Path: /a/b.txt\n")
	require.Contains(t, out, "Kind: regular\n")
	require.Contains(t, out, "Size: 10 (10 B)\n")
	require.Contains(t, out, "Mount: /\n")
	require.Contains(t, out, "Method: deflate\n")
	require.Contains(t, out, "Dirty: false\n")
}

// Expectation: stat should fail on a missing path.
func Test_statCmd_NotFound_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "stat", archive, "nope")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

// Expectation: put should write standard input into the archive, creating parents.
func Test_putCmd_Stdin_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "new content", "put", "-p", archive, "-", "x/y/new.txt")
	require.NoError(t, err)

	files := archiveContents(t, archive)
	require.Equal(t, "new content", files["x/y/new.txt"])
	require.Equal(t, "hello", files["hello.txt"])
	require.Equal(t, "0123456789", files["a/b.txt"])
}

// Expectation: put should replace an existing file with a host file.
func Test_putCmd_HostFile_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	src := filepath.Join(t.TempDir(), "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("replaced"), 0o600))

	_, err := execute(t, "", "put", archive, src, "hello.txt")
	require.NoError(t, err)

	out, err := execute(t, "", "cat", archive, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, "replaced", out)
}

// Expectation: put should fail without parents and leave the archive unchanged.
func Test_putCmd_MissingParent_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	before, err := os.ReadFile(archive)
	require.NoError(t, err)

	_, err = execute(t, "data", "put", archive, "-", "no/such/dir.txt")
	require.ErrorIs(t, err, vfs.ErrNotFound)

	after, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// Expectation: mkdir should create directories, with parents when asked.
func Test_mkdirCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "mkdir", "--force-store-dirs", archive, "empty")
	require.NoError(t, err)

	_, err = execute(t, "", "mkdir", "-p", "--force-store-dirs", archive, "deep/er/dir", "a")
	require.NoError(t, err)

	out, err := execute(t, "", "ls", archive)
	require.NoError(t, err)
	require.Equal(t, "a/\ndeep/\nempty/\nhello.txt\n", out)

	_, err = execute(t, "", "mkdir", archive, "hello.txt")
	require.ErrorIs(t, err, vfs.ErrExist)
}

// Expectation: rm should remove files, and directories only when recursive.
func Test_rmCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "rm", archive, "a")
	require.ErrorIs(t, err, vfs.ErrNotEmpty)

	_, err = execute(t, "", "rm", "-r", archive, "a")
	require.NoError(t, err)

	_, err = execute(t, "", "rm", archive, "hello.txt")
	require.NoError(t, err)

	require.Empty(t, archiveContents(t, archive))
}

// Expectation: cp should copy a file within the archive.
func Test_cpCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "cp", archive, "a/b.txt", "copy.txt")
	require.NoError(t, err)

	files := archiveContents(t, archive)
	require.Equal(t, "0123456789", files["copy.txt"])
	require.Equal(t, "0123456789", files["a/b.txt"])
}

// Expectation: truncate should shrink a file to a humanized size.
func Test_truncateCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "truncate", "-s", "5B", archive, "a/b.txt")
	require.NoError(t, err)

	require.Equal(t, "01234", archiveContents(t, archive)["a/b.txt"])
}

// Expectation: truncate should refuse a size that can not be parsed.
func Test_truncateCmd_BadSize_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "truncate", "-s", "lots", archive, "a/b.txt")
	require.ErrorContains(t, err, "failed to parse size")
}

// Expectation: find should print all paths matching the pattern.
func Test_findCmd_Success(t *testing.T) {
	t.Parallel()
	archive := createTestArchive(t,
		testFile{"a/b.txt", "1"},
		testFile{"a/c/d.txt", "2"},
		testFile{"a/c/e.bin", "3"},
		testFile{"top.txt", "4"},
	)

	out, err := execute(t, "", "find", archive, "**/*.txt")
	require.NoError(t, err)
	require.Equal(t, "/a/b.txt\n/a/c/d.txt\n/top.txt\n", out)

	out, err = execute(t, "", "find", archive, "/a/*")
	require.NoError(t, err)
	require.Equal(t, "/a/b.txt\n/a/c\n", out)
}

// Expectation: find should refuse a malformed pattern.
func Test_findCmd_BadPattern_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "find", archive, "[")
	require.Error(t, err)
}

// Expectation: sync should rewrite the archive and keep its contents.
func Test_syncCmd_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "sync", archive)
	require.NoError(t, err)
	require.Contains(t, out, "Entries: ")

	files := archiveContents(t, archive)
	require.Equal(t, map[string]string{"a/b.txt": "0123456789", "hello.txt": "hello"}, files)
}

// Expectation: A missing archive should only be created when asked.
func Test_rootCmd_Create_Success(t *testing.T) {
	t.Parallel()
	archive := filepath.Join(t.TempDir(), "new.zip")

	_, err := execute(t, "data", "put", archive, "-", "f.txt")
	require.ErrorIs(t, err, vfs.ErrNotFound)

	_, err = execute(t, "data", "put", "--create", archive, "-", "f.txt")
	require.NoError(t, err)

	require.Equal(t, map[string]string{"f.txt": "data"}, archiveContents(t, archive))
}

// Expectation: A read-only archive should refuse modification.
func Test_rootCmd_ReadOnly_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "cat", "--read-only", archive, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	_, err = execute(t, "", "rm", "--read-only", archive, "hello.txt")
	require.ErrorIs(t, err, vfs.ErrPermission)
	require.Contains(t, archiveContents(t, archive), "hello.txt")
}

// Expectation: A bind should mount a host directory into the archive.
func Test_rootCmd_Bind_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	host := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(host, "host.txt"), []byte("from host"), 0o600))

	out, err := execute(t, "", "ls", "--bind", "/a="+host, archive, "a")
	require.NoError(t, err)
	require.Equal(t, "host.txt\n", out)

	_, err = execute(t, "", "cp", "--bind", "/a="+host, archive, "a/host.txt", "copied.txt")
	require.NoError(t, err)
	require.Equal(t, "from host", archiveContents(t, archive)["copied.txt"])

	_, err = execute(t, "", "ls", "--bind", "/missing="+host, archive)
	require.ErrorIs(t, err, vfs.ErrNotAMountPoint)
}

// Expectation: A subdir should be served as the root of the archive.
func Test_rootCmd_Subdir_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	out, err := execute(t, "", "ls", "--subdir", "/a", archive)
	require.NoError(t, err)
	require.Equal(t, "b.txt\n", out)

	_, err = execute(t, "changed", "put", "--subdir", "a", archive, "-", "b.txt")
	require.NoError(t, err)
	require.Equal(t, "changed", archiveContents(t, archive)["a/b.txt"])

	_, err = execute(t, "", "ls", "--subdir", "hello.txt", archive)
	require.ErrorIs(t, err, vfs.ErrNotDir)
}

// Expectation: A host cache should be cleaned up after each invocation.
func Test_rootCmd_CacheDir_Success(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)
	cache := filepath.Join(t.TempDir(), "cache")

	_, err := execute(t, "", "truncate", "--cache-dir", cache, "-s", "2", archive, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, "he", archiveContents(t, archive)["hello.txt"])

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Expectation: An invalid configuration should be refused before opening.
func Test_rootCmd_BadCompressionLevel_Error(t *testing.T) {
	t.Parallel()
	archive := defaultArchive(t)

	_, err := execute(t, "", "sync", "--compression-level", "42", archive)
	require.ErrorContains(t, err, "compression level")
}

// Expectation: absPath should turn command line paths into namespace paths.
func Test_absPath_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/", absPath(""))
	require.Equal(t, "/", absPath("/"))
	require.Equal(t, "/a/b", absPath("a/b/"))
	require.Equal(t, "/a/b", absPath("/a/./c/../b"))
}

// Expectation: formatSize and methodName should format for humans.
func Test_formatters_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2048", formatSize(2048, false))
	require.Equal(t, "2.0 KiB", formatSize(2048, true))
	require.Equal(t, "0 B", formatSize(-1, true))

	require.Equal(t, "store", methodName(zip.Store))
	require.Equal(t, "deflate", methodName(zip.Deflate))
	require.Equal(t, "method(99)", methodName(99))
}
