package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Clean should normalize paths and map the relative root to "".
func Test_Clean_Success(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":         "",
		".":        "",
		"./":       "",
		"a/./b/":   "a/b",
		"a//b":     "a/b",
		"a/../b":   "b",
		"/":        "/",
		"/a/b/../": "/a",
	}
	for in, want := range tests {
		require.Equal(t, want, Clean(in), in)
	}
}

// Expectation: IsNormalized should reject trailing slashes, dot segments and escapes.
func Test_IsNormalized_Success(t *testing.T) {
	t.Parallel()

	require.True(t, IsNormalized(""))
	require.True(t, IsNormalized("a/b"))
	require.True(t, IsNormalized("/"))
	require.True(t, IsNormalized("/a/b"))

	require.False(t, IsNormalized("a/"))
	require.False(t, IsNormalized("./a"))
	require.False(t, IsNormalized("a//b"))
	require.False(t, IsNormalized(".."))
	require.False(t, IsNormalized("../a"))
}

// Expectation: Join should treat "" as the root on both sides.
func Test_Join_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a", Join("", "a"))
	require.Equal(t, "a", Join("a", ""))
	require.Equal(t, "a/b", Join("a", "b"))
	require.Equal(t, "/sub", Join("/", "sub"))
	require.Equal(t, "/sub/x", Join("/sub", "x"))
}

// Expectation: Split should return the parent and the final element.
func Test_Split_Success(t *testing.T) {
	t.Parallel()

	dir, name := Split("a/b.txt")
	require.Equal(t, "a", dir)
	require.Equal(t, "b.txt", name)

	dir, name = Split("a")
	require.Empty(t, dir)
	require.Equal(t, "a", name)

	dir, name = Split("/x")
	require.Equal(t, "/", dir)
	require.Equal(t, "x", name)

	require.Equal(t, "c", Base("a/b/c"))
}

// Expectation: MustRelative should panic on absolute paths only.
func Test_MustRelative_Panic(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { MustRelative(OpState, "a/b") })
	require.Panics(t, func() { MustRelative(OpState, "/a/b") })
}
