package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// CopyFile streams the regular file from of src into to of dst, replacing
// an existing regular file at to once the source is open. It is the generic
// copy used whenever source and destination do not live within the same
// backend.
//
// Transferring fewer bytes than the source reports fails [ErrSystem].
func CopyFile(src FS, from string, dst FS, to string) error {
	st := src.State(from)
	if !st.Exists() {
		return NewError(OpCopy, from, ErrNotFound)
	}
	if st.Kind != KindRegular {
		return NewError(OpCopy, from, ErrNotRegular)
	}

	dt := dst.State(to)
	if dt.Exists() && dt.Kind != KindRegular {
		return NewError(OpCopy, to, ErrNotRegular)
	}

	in, err := src.Open(from, CapReader, OpenExisting)
	if err != nil {
		return Fail(OpCopy, from, err)
	}
	defer in.Close()

	if dt.Exists() {
		if err := dst.Remove(to); err != nil {
			return Fail(OpCopy, to, err)
		}
	}

	out, err := dst.Open(to, CapWriter, CreateNew)
	if err != nil {
		return Fail(OpCopy, to, err)
	}
	defer out.Close()

	n, err := io.Copy(out.Writer, in.Reader)
	if err != nil {
		return WrapError(OpCopy, to, ErrSystem, err)
	}
	if n < st.Size {
		return WrapError(OpCopy, to, ErrSystem,
			fmt.Errorf("short transfer: %d of %d bytes", n, st.Size))
	}

	if err := out.Writer.Sync(); err != nil {
		return WrapError(OpCopy, to, ErrSystem, err)
	}

	return Fail(OpCopy, to, out.Close())
}

// RemoveAll removes path and everything beneath it, children first.
// A missing path is not an error.
func RemoveAll(fsys FS, path string) error {
	st := fsys.State(path)
	if !st.Exists() {
		return nil
	}

	if st.Kind.IsDir() {
		children, err := fsys.Children(path)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := RemoveAll(fsys, Join(path, Base(c.Path))); err != nil {
				return err
			}
		}
	}

	return fsys.Remove(path)
}

// ReadFile returns the entire content of the regular file at path.
func ReadFile(fsys FS, path string) ([]byte, error) {
	h, err := fsys.Open(path, CapReader, OpenExisting)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, h.Reader); err != nil {
		return nil, Fail(OpRead, path, err)
	}

	return buf.Bytes(), nil
}

// WriteFile replaces the file at path with data.
func WriteFile(fsys FS, path string, data []byte) error {
	if fsys.State(path).Kind == KindRegular {
		if err := fsys.Remove(path); err != nil {
			return err
		}
	}

	h, err := fsys.Open(path, CapWriter, CreateNew)
	if err != nil {
		return err
	}
	defer h.Close()

	if _, err := h.Writer.Write(data); err != nil {
		return Fail(OpWrite, path, err)
	}
	if err := h.Writer.Sync(); err != nil {
		return Fail(OpWrite, path, err)
	}

	return Fail(OpWrite, path, h.Close())
}

// WalkFunc gets called on each visited path as part of a [Walk].
// Returning [fs.SkipDir] for a directory skips its children.
type WalkFunc func(path string, st State) error

// Walk visits root and everything beneath it depth-first, calling walkFn
// on every node. Children of a directory are visited in name order.
func Walk(fsys FS, root string, walkFn WalkFunc) error {
	st := fsys.State(root)
	if !st.Exists() {
		return NewError(OpState, root, ErrNotFound)
	}

	err := walk(fsys, root, st, walkFn)
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		return nil
	}

	return err
}

func walk(fsys FS, path string, st State, walkFn WalkFunc) error {
	if err := walkFn(path, st); err != nil {
		if errors.Is(err, fs.SkipDir) && st.Kind.IsDir() {
			return nil
		}

		return err
	}

	if !st.Kind.IsDir() {
		return nil
	}

	children, err := fsys.Children(path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, Base(c.Path))
	}
	slices.Sort(names)

	for _, name := range names {
		p := Join(path, name)
		if err := walk(fsys, p, fsys.State(p), walkFn); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}

			return err
		}
	}

	return nil
}

// Glob returns all paths of fsys that match pattern, in walk order.
// Patterns follow [doublestar.Match], so "**" spans directory levels.
func Glob(fsys FS, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, WrapError(OpState, pattern, ErrInvalid, doublestar.ErrBadPattern)
	}

	var matches []string

	err := Walk(fsys, "", func(p string, _ State) error {
		if p == "" {
			return nil
		}
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return err //nolint:wrapcheck
		}
		if ok {
			matches = append(matches, p)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return matches, nil
}
