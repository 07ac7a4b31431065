package vfs

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: An Error should match both its code and its underlying cause.
func Test_Error_Unwrap_Success(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk on fire")

	err := WrapError(OpRemove, "a/b", ErrSystem, cause)
	require.ErrorIs(t, err, ErrSystem)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, "remove a/b: system error (disk on fire)", err.Error())
}

// Expectation: Codes should match their io/fs counterparts.
func Test_Code_Is_FSErrors_Success(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, NewError(OpOpen, "x", ErrNotFound), fs.ErrNotExist)
	require.ErrorIs(t, NewError(OpOpen, "x", ErrExist), fs.ErrExist)
	require.ErrorIs(t, NewError(OpOpen, "x", ErrPermission), fs.ErrPermission)
	require.ErrorIs(t, NewError(OpOpen, "x", ErrInvalid), fs.ErrInvalid)
	require.NotErrorIs(t, NewError(OpOpen, "x", ErrNotEmpty), fs.ErrExist)
}

// Expectation: The root path should be quoted in error messages.
func Test_Error_Error_EmptyPath_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, `remove "": busy mounted`, NewError(OpRemove, "", ErrBusyMounted).Error())
}

// Expectation: Fail should keep existing codes and fall back to ErrSystem.
func Test_Fail_Codes_Success(t *testing.T) {
	t.Parallel()

	require.NoError(t, Fail(OpCopy, "x", nil))

	err := Fail(OpCopy, "to", NewError(OpOpen, "from", ErrNotFound))
	require.Equal(t, ErrNotFound, CodeOf(err))

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, OpCopy, e.Op)
	require.Equal(t, "to", e.Path)

	require.Equal(t, ErrInvalid, CodeOf(Fail(OpCopy, "x", ErrInvalid)))
	require.Equal(t, ErrSystem, CodeOf(Fail(OpCopy, "x", errors.New("other"))))
}

// Expectation: WithPath should only rewrite the path of an Error.
func Test_WithPath_Success(t *testing.T) {
	t.Parallel()
	plain := errors.New("plain")

	require.Same(t, plain, WithPath(plain, "/x"))

	err := WithPath(NewError(OpState, "x", ErrNotDir), "/mnt/x")

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "/mnt/x", e.Path)
	require.Equal(t, ErrNotDir, e.Code)
}

// Expectation: CodeOf should map nil to OK and unknown errors to ErrSystem.
func Test_CodeOf_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, OK, CodeOf(nil))
	require.Equal(t, ErrSystem, CodeOf(errors.New("x")))
	require.Equal(t, ErrData, CodeOf(ErrData))
	require.Equal(t, "unknown code", Code(250).Error())
}
