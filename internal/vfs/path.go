package vfs

import (
	"path"
	"strings"
)

// Clean returns the normalized form of p: no "." segments, ".." resolved
// lexically, no trailing '/' except for the absolute root "/". A relative
// path that cleans to nothing becomes "" (the backend root).
func Clean(p string) string {
	if p == "" {
		return ""
	}

	c := path.Clean(p)
	if c == "." {
		return ""
	}

	return c
}

// IsAbs returns true if p is an absolute path.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// IsNormalized returns true if p is already in normalized form and has
// no ".." segment left in it.
func IsNormalized(p string) bool {
	if p != Clean(p) {
		return false
	}

	for seg := range strings.SplitSeq(p, "/") {
		if seg == ".." {
			return false
		}
	}

	return true
}

// Join joins a normalized base with a normalized relative path.
func Join(base, rel string) string {
	if rel == "" {
		return base
	}
	if base == "" {
		return rel
	}

	return path.Join(base, rel)
}

// Split splits p into its parent directory and final element.
// The parent of a top-level relative path is "", of "/x" it is "/".
func Split(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	switch {
	case i < 0:
		return "", p
	case i == 0:
		return "/", p[1:]
	default:
		return p[:i], p[i+1:]
	}
}

// Base returns the final element of p.
func Base(p string) string {
	_, name := Split(p)

	return name
}

// MustRelative panics if p is absolute. Backends call it on every incoming
// path, since handing them an absolute path is a programming error.
func MustRelative(op, p string) {
	if IsAbs(p) {
		panic("vfs: " + op + ": absolute path " + p + " handed to a backend")
	}
}
