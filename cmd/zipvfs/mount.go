package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/zipvfs/internal/fusefs"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/webserver"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer = 1 << 24
)

type mountOpts struct {
	archive       string
	mountDir      string
	allowOther    bool
	syncOnUnmount bool
}

func mountCmd(a *app) *cobra.Command {
	var allowOther, noSync bool

	cmd := &cobra.Command{
		Use:   "mount <archive> <mountpoint>",
		Short: "Mount the archive as a FUSE filesystem",
		Long:  helpTextMountLong,
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			return a.mount(mountOpts{
				archive:       args[0],
				mountDir:      args[1],
				allowOther:    allowOther,
				syncOnUnmount: !noSync,
			})
		},
	}
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "Allow other users to access the filesystem")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Do not rewrite the archive when unmounting")
	cmd.Flags().StringVarP(&a.cfg.Webserver, "webserver", "w", a.cfg.Webserver, "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")
	cmd.Flags().IntVar(&a.cfg.RingBufferSize, "ring-buffer-size", a.cfg.RingBufferSize, "Amount of events kept for the dashboard")
	cmd.Flags().Uint64Var(&a.cfg.AttrCacheSize, "attr-cache-size", a.cfg.AttrCacheSize, "Amount of attributes kept cached")
	cmd.Flags().DurationVar(&a.cfg.AttrCacheTTL, "attr-cache-ttl", a.cfg.AttrCacheTTL, "Time attributes are kept cached for")

	return cmd
}

// fuseOptions returns the options for the FUSE connection.
func (a *app) fuseOptions(opts mountOpts) []fuse.MountOption {
	options := []fuse.MountOption{
		fuse.FSName("zipvfs"),
		fuse.Subtype("zipvfs"),
	}
	if a.cfg.ReadOnly {
		options = append(options, fuse.ReadOnly())
	}
	if opts.allowOther {
		options = append(options, fuse.AllowOther())
	}

	return options
}

// fuseFSOptions returns the options for the FUSE filesystem.
func (a *app) fuseFSOptions(opts mountOpts) *fusefs.Options {
	fopts := fusefs.DefaultOptions()
	fopts.ReadOnly = a.cfg.ReadOnly
	fopts.AttrCacheSize = a.cfg.AttrCacheSize
	fopts.AttrCacheTTL = a.cfg.AttrCacheTTL
	fopts.SyncOnDestroy.Store(opts.syncOnUnmount && !a.cfg.ReadOnly)

	return fopts
}

func (a *app) mount(opts mountOpts) error {
	rbuf := logging.NewRingBuffer(a.cfg.RingBufferSize, a.stderr)

	s, err := a.session(opts.archive, rbuf)
	if err != nil {
		return err
	}
	defer s.Close()

	fsys, err := fusefs.New(s.root, a.fuseFSOptions(opts), rbuf)
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	defer fsys.Cleanup()

	c, err := fuse.Mount(opts.mountDir, a.fuseOptions(opts)...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(opts.mountDir) //nolint:errcheck

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	if a.cfg.Webserver != "" {
		dash, err := webserver.NewFSDashboard(fsys, rbuf, Version)
		if err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
		srv := dash.Serve(a.cfg.Webserver)
		defer srv.Close()
	}

	rbuf.Printf("mounted %q at %q\n", opts.archive, opts.mountDir)

	handleSignals(fsys, rbuf, opts.mountDir)

	wg.Wait()

	if !fsys.Destroyed() {
		fsys.Destroy()
	}

	return <-errChan
}

func handleSignals(fsys *fusefs.FS, rbuf *logging.RingBuffer, mountDir string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(mountDir); err != nil {
				rbuf.Printf("Unmount error: %v (try again later)\n", err)

				continue
			}

			return
		}
	}()

	sigh := make(chan os.Signal, 1)
	signal.Notify(sigh, syscall.SIGHUP)
	go func() {
		for range sigh {
			rbuf.Println("Signal received, rewriting the archive...")

			if err := fsys.Sync(); err != nil {
				rbuf.Printf("Sync error: %v (try again later)\n", err)
			}
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()
}
