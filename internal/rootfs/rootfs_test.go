package rootfs

import (
	"testing"

	"github.com/desertwitch/zipvfs/internal/memfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T, dirs ...string) *memfs.FS {
	t.Helper()

	fsys := memfs.New()
	for _, d := range dirs {
		require.NoError(t, fsys.CreateDir(d))
	}

	return fsys
}

// Expectation: The first mount should only be accepted at "/".
func Test_FS_Mount_FirstAtRoot_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	err := rfs.Mount("/sub", testBackend(t))
	require.ErrorIs(t, err, vfs.ErrNotAMountPoint)

	a := testBackend(t)
	require.NoError(t, rfs.Mount("/", a))
	require.True(t, a.Mounted())
	require.Equal(t, "/", a.MountPoint())
	require.Equal(t, vfs.Namespace(rfs), a.Root())
}

// Expectation: Mount should refuse malformed, used, busy and non-directory targets.
func Test_FS_Mount_Errors(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "dir")
	require.NoError(t, vfs.WriteFile(a, "file", nil))
	require.NoError(t, rfs.Mount("/", a))

	require.ErrorIs(t, rfs.Mount("relative", testBackend(t)), vfs.ErrInvalid)
	require.ErrorIs(t, rfs.Mount("/dir/", testBackend(t)), vfs.ErrInvalid)
	require.ErrorIs(t, rfs.Mount("/", testBackend(t)), vfs.ErrUsedMountPoint)
	require.ErrorIs(t, rfs.Mount("/dir", a), vfs.ErrBusyMounted)
	require.ErrorIs(t, rfs.Mount("/file", testBackend(t)), vfs.ErrNotAMountPoint)
	require.ErrorIs(t, rfs.Mount("/missing", testBackend(t)), vfs.ErrNotAMountPoint)
}

// Expectation: A path beneath a nested mount should resolve through that mount only.
func Test_FS_Locate_NestedMount_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "sub")
	require.NoError(t, vfs.WriteFile(a, "sub/x", []byte("from A")))
	b := testBackend(t)
	require.NoError(t, vfs.WriteFile(b, "x", []byte("from B")))

	require.NoError(t, rfs.Mount("/", a))
	require.NoError(t, rfs.Mount("/sub", b))

	st := rfs.Locate("/sub/x")
	require.Equal(t, vfs.KindRegular, st.Kind)
	require.Same(t, b, st.Node.FS)
	require.Equal(t, "x", st.Node.Path)
	require.Equal(t, b.State("x"), st)

	backend, rel, err := rfs.Resolve("/sub/x")
	require.NoError(t, err)
	require.Same(t, b, backend)
	require.Equal(t, "x", rel)

	data, err := vfs.ReadFile(b, "x")
	require.NoError(t, err)
	require.Equal(t, "from B", string(data))
}

// Expectation: Prefix matching should respect segment boundaries.
func Test_FS_Locate_SegmentBoundary_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "ab", "abc")
	b := testBackend(t)
	require.NoError(t, vfs.WriteFile(a, "abc/f", nil))

	require.NoError(t, rfs.Mount("/", a))
	require.NoError(t, rfs.Mount("/ab", b))

	st := rfs.Locate("/abc/f")
	require.Same(t, a, st.Node.FS)
	require.Equal(t, "abc/f", st.Node.Path)
	require.Equal(t, vfs.KindRegular, st.Kind)

	st = rfs.Locate("/ab")
	require.Equal(t, vfs.KindMountPoint, st.Kind)
	require.Same(t, b, st.Node.FS)
}

// Expectation: The longest prefix should win across deep nesting and unrelated siblings.
func Test_FS_Locate_DeepNesting_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	root := testBackend(t, "a", "a-z", "m")
	mid := testBackend(t, "b", "b/c", "bb")
	deep := testBackend(t)
	side := testBackend(t)
	dash := testBackend(t)

	require.NoError(t, rfs.Mount("/", root))
	require.NoError(t, rfs.Mount("/a", mid))
	require.NoError(t, rfs.Mount("/a/b/c", deep))
	require.NoError(t, rfs.Mount("/a/bb", side))
	require.NoError(t, rfs.Mount("/a-z", dash))

	tests := []struct {
		path  string
		owner vfs.FS
		rel   string
	}{
		{"/a/b/c/d/e", deep, "d/e"},
		{"/a/b/d", mid, "b/d"},
		{"/a/bb/x", side, "x"},
		{"/a/ba", mid, "ba"},
		{"/a-z/q", dash, "q"},
		{"/a-", root, "a-"},
		{"/m/n", root, "m/n"},
		{"/zzz", root, "zzz"},
	}
	for _, tt := range tests {
		backend, rel, err := rfs.Resolve(tt.path)
		require.NoError(t, err, tt.path)
		require.Same(t, tt.owner, backend, tt.path)
		require.Equal(t, tt.rel, rel, tt.path)
	}
}

// Expectation: Malformed and unowned paths should locate as invalid.
func Test_FS_Locate_Invalid_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	require.Equal(t, vfs.KindInvalid, rfs.Locate("/x").Kind)

	_, _, err := rfs.Resolve("/x")
	require.ErrorIs(t, err, vfs.ErrFSNotFound)

	require.NoError(t, rfs.Mount("/", testBackend(t)))
	require.Equal(t, vfs.KindInvalid, rfs.Locate("relative").Kind)
	require.Equal(t, vfs.KindInvalid, rfs.Locate("/a/../b").Kind)
	require.Equal(t, vfs.KindNotFound, rfs.Locate("/missing").Kind)
}

// Expectation: Unmount should fail while mounts exist beneath and succeed once none remain.
func Test_FS_Unmount_Busy_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "x")
	b := testBackend(t, "y")
	c := testBackend(t)

	require.NoError(t, rfs.Mount("/", a))
	require.NoError(t, rfs.Mount("/x", b))
	require.NoError(t, rfs.Mount("/x/y", c))

	require.ErrorIs(t, rfs.Unmount("/x"), vfs.ErrBusyMounted)
	require.ErrorIs(t, rfs.Unmount("/"), vfs.ErrBusyMounted)
	require.ErrorIs(t, rfs.Unmount("/x/z"), vfs.ErrFSNotFound)

	require.NoError(t, rfs.Unmount("/x/y"))
	require.False(t, c.Mounted())

	require.NoError(t, rfs.Unmount("/x"))
	require.False(t, b.Mounted())
	require.Equal(t, vfs.KindDirectory, rfs.Locate("/x").Kind)

	require.NoError(t, rfs.Unmount("/"))
	require.Empty(t, rfs.MountedFS())
}

// Expectation: A pinned root should never be unmounted.
func Test_FS_Unmount_PinnedRoot_Error(t *testing.T) {
	t.Parallel()
	rfs := New(&Options{PinRoot: true})

	require.NoError(t, rfs.Mount("/", testBackend(t)))
	require.ErrorIs(t, rfs.Unmount("/"), vfs.ErrUnmountRoot)
}

// Expectation: A detached backend should be mountable again elsewhere.
func Test_FS_Mount_Remount_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "one", "two")
	b := testBackend(t)

	require.NoError(t, rfs.Mount("/", a))
	require.NoError(t, rfs.Mount("/one", b))
	require.NoError(t, rfs.Unmount("/one"))
	require.NoError(t, rfs.Mount("/two", b))

	p, ok := rfs.MountPointOf(b)
	require.True(t, ok)
	require.Equal(t, "/two", p)
	require.Equal(t, "/two", b.MountPoint())

	_, ok = rfs.MountPointOf(testBackend(t))
	require.False(t, ok)
}

// Expectation: ContainMountPoint and MountedFS should reflect the mount table.
func Test_FS_ContainMountPoint_MountedFS_Success(t *testing.T) {
	t.Parallel()
	rfs := New(nil)

	a := testBackend(t, "a", "b")
	b := testBackend(t)

	require.NoError(t, rfs.Mount("/", a))
	require.NoError(t, rfs.Mount("/b", b))

	require.True(t, rfs.ContainMountPoint("/"))
	require.False(t, rfs.ContainMountPoint("/a"))
	require.False(t, rfs.ContainMountPoint("/b"))

	entries := rfs.MountedFS()
	require.Len(t, entries, 2)
	require.Equal(t, "/", entries[0].Prefix)
	require.Same(t, a, entries[0].FS)
	require.Equal(t, "/b/", entries[1].Prefix)
	require.Equal(t, "/b", entries[1].Path())
	require.Same(t, b, entries[1].FS)
}
