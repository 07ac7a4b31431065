package vfs

import (
	"errors"
	"io/fs"
)

// Code is a structured result code. Every Code other than [OK] is also an
// error, so callers can branch with errors.Is(err, vfs.ErrNotFound).
type Code uint8

const (
	OK Code = iota
	ErrInvalid
	ErrBusyMounted
	ErrNotFound
	ErrExist
	ErrUsedMountPoint
	ErrNotAMountPoint
	ErrUnmountRoot
	ErrFSNotFound
	ErrSystem
	ErrOpenFailed
	ErrFileBusy
	ErrNotRegular
	ErrNotDir
	ErrPermission
	ErrNotEmpty
	ErrData
	ErrUnsupportedInterface
)

var codeNames = [...]string{
	OK:                      "ok",
	ErrInvalid:              "invalid",
	ErrBusyMounted:          "busy mounted",
	ErrNotFound:             "not found",
	ErrExist:                "exist",
	ErrUsedMountPoint:       "used mount point",
	ErrNotAMountPoint:       "not a mount point",
	ErrUnmountRoot:          "unmount root",
	ErrFSNotFound:           "fs not found",
	ErrSystem:               "system error",
	ErrOpenFailed:           "open failed",
	ErrFileBusy:             "file busy",
	ErrNotRegular:           "not regular",
	ErrNotDir:               "not dir",
	ErrPermission:           "permission denied",
	ErrNotEmpty:             "not empty",
	ErrData:                 "data error",
	ErrUnsupportedInterface: "unsupported interface",
}

func (c Code) Error() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}

	return "unknown code"
}

func (c Code) String() string {
	return c.Error()
}

// Is lets codes match their [io/fs] counterparts.
func (c Code) Is(target error) bool {
	switch c { //nolint:exhaustive
	case ErrNotFound:
		return target == fs.ErrNotExist
	case ErrExist:
		return target == fs.ErrExist
	case ErrPermission:
		return target == fs.ErrPermission
	case ErrInvalid:
		return target == fs.ErrInvalid
	default:
		return false
	}
}

// Common operation names for consistent error reporting.
const (
	OpRemove    = "remove"
	OpCreateDir = "createdir"
	OpCopy      = "copy"
	OpTruncate  = "truncate"
	OpSync      = "sync"
	OpChildren  = "children"
	OpState     = "state"
	OpOpen      = "open"
	OpMount     = "mount"
	OpUnmount   = "unmount"
	OpResolve   = "resolve"
	OpLoad      = "load"
	OpRead      = "read"
	OpWrite     = "write"
)

// Error wraps a result [Code] with the operation and path it occurred on,
// and optionally the underlying cause.
type Error struct {
	Op   string // Operation that failed (e.g. "remove", "open")
	Path string // Affected path, as seen by the caller
	Code Code   // Result code
	Err  error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op + " " + quote(e.Path) + ": " + e.Code.Error()
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}

	return msg
}

// Unwrap exposes both the code and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}

	return []error{e.Code, e.Err}
}

func quote(p string) string {
	if p == "" {
		return `""`
	}

	return p
}

// NewError returns a new [Error] without an underlying cause.
func NewError(op, path string, code Code) error {
	return &Error{Op: op, Path: path, Code: code}
}

// WrapError returns a new [Error] with cause as underlying error.
func WrapError(op, path string, code Code, cause error) error {
	return &Error{Op: op, Path: path, Code: code, Err: cause}
}

// Fail turns any error into an [Error] for op and path, keeping the code
// carried by err or falling back to [ErrSystem].
func Fail(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Path: path, Code: e.Code, Err: e.Err}
	}

	var c Code
	if errors.As(err, &c) {
		if c == err { //nolint:errorlint
			return &Error{Op: op, Path: path, Code: c}
		}

		return &Error{Op: op, Path: path, Code: c, Err: err}
	}

	return &Error{Op: op, Path: path, Code: ErrSystem, Err: err}
}

// WithPath rewrites the path of an [Error], leaving other errors untouched.
// Decorators use it so callers see errors in terms of their own paths.
func WithPath(err error, path string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}

	return &Error{Op: e.Op, Path: path, Code: e.Code, Err: e.Err}
}

// CodeOf returns the result code carried by err.
// Errors without a code map to [ErrSystem], and nil maps to [OK].
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var c Code
	if errors.As(err, &c) {
		return c
	}

	return ErrSystem
}
