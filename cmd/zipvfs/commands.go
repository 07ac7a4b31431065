package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/desertwitch/zipvfs/internal/rootfs"
	"github.com/desertwitch/zipvfs/internal/subvfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"
)

// absPath turns a path given on the command line into one of the namespace.
func absPath(p string) string {
	return "/" + strings.TrimPrefix(vfs.Clean(p), "/")
}

// formatSize returns the size as bytes, or humanized.
func formatSize(size int64, human bool) string {
	if human {
		return humanize.IBytes(uint64(max(size, 0)))
	}

	return fmt.Sprint(size)
}

// archiveEntry returns the archive entry backing absPath, if any.
func archiveEntry(s *session, absPath string) (zipfs.Entry, bool) {
	backend, rel, err := s.root.Resolve(absPath)
	if err != nil {
		return zipfs.Entry{}, false
	}

	if sfs, ok := backend.(*subvfs.FS); ok {
		backend, rel = sfs.Parent(), vfs.Join(sfs.Prefix(), rel)
	}

	zfs, ok := backend.(*zipfs.FS)
	if !ok {
		return zipfs.Entry{}, false
	}

	return zfs.Entry(rel)
}

func methodName(m uint16) string {
	switch m {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", m)
	}
}

func lsCmd(a *app) *cobra.Command {
	var long, human, quote bool

	cmd := &cobra.Command{
		Use:   "ls <archive> [path]",
		Short: "List a directory of the archive",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "/"
			if len(args) > 1 {
				dir = absPath(args[1])
			}

			return a.run(args[0], false, func(s *session) error {
				entries, err := s.root.ReadDir(dir)
				if err != nil {
					return err //nolint:wrapcheck
				}

				for _, e := range entries {
					name := e.Name
					if e.State.Kind.IsDir() {
						name += "/"
					}
					if quote {
						name = shellescape.Quote(name)
					}

					if long {
						fmt.Fprintf(a.stdout, "%-11s %10s  %s\n", e.State.Kind, formatSize(e.State.Size, human), name)
					} else {
						fmt.Fprintln(a.stdout, name)
					}
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Print kind and size of each entry")
	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "Print sizes in human-readable form")
	cmd.Flags().BoolVarP(&quote, "quote", "q", false, "Quote names for use in a shell")

	return cmd
}

func statCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <archive> <path>",
		Short: "Print the state of a path of the archive",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			p := absPath(args[1])

			return a.run(args[0], false, func(s *session) error {
				st := s.root.Locate(p)
				if !st.Exists() {
					return vfs.NewError(vfs.OpState, p, vfs.ErrNotFound)
				}

				fmt.Fprintf(a.stdout, "Path: %s\n", p)
				fmt.Fprintf(a.stdout, "Kind: %s\n", st.Kind)
				fmt.Fprintf(a.stdout, "Size: %d (%s)\n", st.Size, humanize.IBytes(uint64(max(st.Size, 0))))

				if mp, ok := s.root.MountPointOf(st.Node.FS); ok {
					fmt.Fprintf(a.stdout, "Mount: %s\n", mp)
				}

				if e, ok := archiveEntry(s, p); ok && e.Kind == vfs.KindRegular {
					fmt.Fprintf(a.stdout, "Method: %s\n", methodName(e.Header.Method))
					fmt.Fprintf(a.stdout, "Compressed: %d\n", e.Header.CompressedSize64)
					fmt.Fprintf(a.stdout, "CRC32: %08x\n", e.Header.CRC32)
					fmt.Fprintf(a.stdout, "Modified: %s\n", e.Header.Modified.Format(time.RFC3339))
					fmt.Fprintf(a.stdout, "Dirty: %t\n", e.Dirty)
				}

				return nil
			})
		},
	}
}

func catCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <archive> <path>...",
		Short: "Print files of the archive to standard output",
		Args:  cobra.MinimumNArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args[0], false, func(s *session) error {
				for _, arg := range args[1:] {
					if err := catFile(s.root, absPath(arg), a.stdout); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

func catFile(root *rootfs.FS, p string, w io.Writer) error {
	h, err := root.Open(p, vfs.CapReader, vfs.OpenExisting)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer h.Close()

	if _, err := io.Copy(w, h.Reader); err != nil {
		return vfs.Fail(vfs.OpRead, p, err)
	}

	return nil
}

func putCmd(a *app) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "put <archive> <source> <path>",
		Short: "Write a host file (or - for standard input) into the archive",
		Args:  cobra.ExactArgs(3), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			var in io.Reader = a.stdin
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("failed to open source: %w", err)
				}
				defer f.Close()
				in = f
			}

			p := absPath(args[2])

			return a.run(args[0], true, func(s *session) error {
				if parents {
					dir, _ := vfs.Split(p)
					if err := mkdirAll(s.root, dir); err != nil {
						return err
					}
				}

				return putFile(s.root, p, in)
			})
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent directories")

	return cmd
}

// putFile replaces the file at p with the content of r.
func putFile(root *rootfs.FS, p string, r io.Reader) error {
	if root.Locate(p).Kind == vfs.KindRegular {
		if err := root.Remove(p); err != nil {
			return err //nolint:wrapcheck
		}
	}

	h, err := root.Open(p, vfs.CapWriter, vfs.CreateNew)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer h.Close()

	if _, err := io.Copy(h.Writer, r); err != nil {
		return vfs.Fail(vfs.OpWrite, p, err)
	}
	if err := h.Writer.Sync(); err != nil {
		return vfs.Fail(vfs.OpWrite, p, err)
	}

	return vfs.Fail(vfs.OpWrite, p, h.Close())
}

// mkdirAll creates p along with all missing parents.
func mkdirAll(root *rootfs.FS, p string) error {
	if p == "/" {
		return nil
	}

	switch st := root.Locate(p); {
	case st.Kind.IsDir():
		return nil
	case st.Exists():
		return vfs.NewError(vfs.OpCreateDir, p, vfs.ErrNotDir)
	}

	parent, _ := vfs.Split(p)
	if err := mkdirAll(root, parent); err != nil {
		return err
	}

	return root.CreateDir(p) //nolint:wrapcheck
}

func mkdirCmd(a *app) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <archive> <path>...",
		Short: "Create directories in the archive",
		Args:  cobra.MinimumNArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args[0], true, func(s *session) error {
				for _, arg := range args[1:] {
					p := absPath(arg)

					var err error
					if parents {
						err = mkdirAll(s.root, p)
					} else {
						err = s.root.CreateDir(p)
					}
					if err != nil {
						return err //nolint:wrapcheck
					}
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parents, no error if existing")

	return cmd
}

func rmCmd(a *app) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <archive> <path>...",
		Short: "Remove files or directories from the archive",
		Args:  cobra.MinimumNArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args[0], true, func(s *session) error {
				for _, arg := range args[1:] {
					p := absPath(arg)

					var err error
					if recursive {
						err = s.root.RemoveAll(p)
					} else {
						err = s.root.Remove(p)
					}
					if err != nil {
						return err //nolint:wrapcheck
					}
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their contents")

	return cmd
}

func cpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <archive> <from> <to>",
		Short: "Copy a file within the archive (or from and to binds)",
		Args:  cobra.ExactArgs(3), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args[0], true, func(s *session) error {
				return s.root.Copy(absPath(args[1]), absPath(args[2])) //nolint:wrapcheck
			})
		},
	}
}

func truncateCmd(a *app) *cobra.Command {
	var size string

	cmd := &cobra.Command{
		Use:   "truncate <archive> <path>",
		Short: "Shrink or extend a file of the archive",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := humanize.ParseBytes(size)
			if err != nil {
				return fmt.Errorf("failed to parse size: %w", err)
			}

			return a.run(args[0], true, func(s *session) error {
				return s.root.Truncate(absPath(args[1]), int64(n)) //nolint:gosec,wrapcheck
			})
		},
	}
	cmd.Flags().StringVarP(&size, "size", "s", "0", "New size of the file (e.g. 0, 512, 4KiB, 1MB)")

	return cmd
}

func findCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <archive> <pattern>",
		Short: "Print all paths matching a pattern (with ** for any depth)",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			pattern := strings.TrimPrefix(args[1], "/")
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("%w: %q", doublestar.ErrBadPattern, args[1])
			}

			return a.run(args[0], false, func(s *session) error {
				return walk(s.root, "/", func(p string, _ vfs.State) error {
					if ok, _ := doublestar.Match(pattern, strings.TrimPrefix(p, "/")); ok {
						fmt.Fprintln(a.stdout, p)
					}

					return nil
				})
			})
		},
	}
}

// walk calls fn for every path beneath dir of the namespace, parents first.
func walk(root *rootfs.FS, dir string, fn func(p string, st vfs.State) error) error {
	entries, err := root.ReadDir(dir)
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, e := range entries {
		p := vfs.Join(dir, e.Name)
		if err := fn(p, e.State); err != nil {
			return err
		}
		if e.State.Kind.IsDir() {
			if err := walk(root, p, fn); err != nil {
				return err
			}
		}
	}

	return nil
}

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <archive>",
		Short: "Rewrite the archive (normalizing it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(args[0], true, func(s *session) error {
				if c := s.archive.Comment(); c != "" {
					fmt.Fprintf(a.stdout, "Comment: %s\n", c)
				}
				fmt.Fprintf(a.stdout, "Entries: %d\n", s.archive.Len())

				return nil
			})
		},
	}
}
