package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertwitch/zipvfs/internal/config"
	"github.com/desertwitch/zipvfs/internal/diskfs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/memfs"
	"github.com/desertwitch/zipvfs/internal/rootfs"
	"github.com/desertwitch/zipvfs/internal/subvfs"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/google/uuid"
)

// sessionOpts are the per-invocation settings on top of the configuration.
type sessionOpts struct {
	cfg     *config.Config
	archive string // Host path of the archive.
	subdir  string // Directory of the archive to serve as the root.
	create  bool   // Create the archive if it does not exist.
}

// session is an archive mounted at "/" of a fresh namespace, along with
// all configured binds.
type session struct {
	root     *rootfs.FS
	archive  *zipfs.FS
	cache    vfs.FS
	cacheDir string
	readOnly bool
	rbuf     *logging.RingBuffer
}

func openSession(opts sessionOpts, rbuf *logging.RingBuffer) (*session, error) {
	cfg := opts.cfg

	abs, err := filepath.Abs(opts.archive)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path: %w", err)
	}

	host, err := diskfs.New(filepath.Dir(abs), cfg.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive dir: %w", err)
	}

	s := &session{readOnly: cfg.ReadOnly, rbuf: rbuf}

	if err := s.openCache(cfg.CacheDir); err != nil {
		return nil, err
	}

	zopts := zipfs.DefaultOptions()
	zopts.ReadOnly = cfg.ReadOnly
	zopts.Cache = s.cache
	zopts.CacheDir = s.cacheDir
	zopts.ForceStoreDirs = cfg.ForceStoreDirs
	zopts.CompressionLevel = cfg.CompressionLevel
	zopts.StoreIncompressible = cfg.StoreIncompressible
	zopts.MustCRC32.Store(cfg.MustCRC32)

	flag := vfs.OpenExisting
	if opts.create && !cfg.ReadOnly {
		flag = vfs.CreateOrOpen
	}

	s.archive, err = zipfs.Open(host, filepath.Base(abs), flag, zopts)
	if err != nil {
		s.dropCache()

		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if err := s.mount(opts); err != nil {
		s.Close()

		return nil, err
	}

	return s, nil
}

// openCache sets up the backend extracted entries are materialized into.
// A host cache gets a directory of its own per session.
func (s *session) openCache(dir string) error {
	if dir == "" {
		s.cache = memfs.New()

		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	cache, err := diskfs.New(dir, false)
	if err != nil {
		return fmt.Errorf("failed to open cache dir: %w", err)
	}

	s.cache = cache
	s.cacheDir = "zipvfs-" + uuid.NewString()

	return nil
}

func (s *session) dropCache() {
	if s.cacheDir != "" {
		_ = vfs.RemoveAll(s.cache, s.cacheDir)
	}
}

func (s *session) mount(opts sessionOpts) error {
	s.root = rootfs.New(&rootfs.Options{PinRoot: true})

	var top vfs.FS = s.archive
	if sub := strings.TrimPrefix(vfs.Clean(opts.subdir), "/"); sub != "" {
		sfs, err := subvfs.New(s.archive, sub)
		if err != nil {
			return fmt.Errorf("failed to serve subdir %q: %w", sub, err)
		}
		top = sfs
	}

	if err := s.root.Mount("/", top); err != nil {
		return fmt.Errorf("failed to mount archive: %w", err)
	}

	for _, b := range opts.cfg.Binds {
		mountPoint, dir, err := config.ParseBind(b)
		if err != nil {
			return err //nolint:wrapcheck
		}

		dfs, err := diskfs.New(dir, s.readOnly)
		if err != nil {
			return fmt.Errorf("failed to open bind %q: %w", b, err)
		}

		if err := s.root.Mount(mountPoint, dfs); err != nil {
			return fmt.Errorf("failed to mount bind %q: %w", b, err)
		}
		s.rbuf.Printf("bound %q at %q\n", dir, mountPoint)
	}

	return nil
}

// Commit rewrites all mounted backends.
func (s *session) Commit() error {
	if s.readOnly {
		return nil
	}

	if err := s.root.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}

	m := s.archive.Metrics
	s.rbuf.Printf("synced archive (%d entries, %d raw bytes, %d recompressed bytes)\n",
		s.archive.Len(), m.TotalRawCopyBytes.Load(), m.TotalRecompressBytes.Load())

	return nil
}

// Close releases the archive and the cache, dropping uncommitted changes.
func (s *session) Close() error {
	var errs []error

	if err := s.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close archive: %w", err))
	}
	s.dropCache()

	return errors.Join(errs...)
}
