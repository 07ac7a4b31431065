/*
zipvfs serves ZIP archives as mutable filesystems. Entries are extracted into
a cache on their first modification and the archive is rewritten on sync,
copying all unmodified entries verbatim (without recompressing them).

The archive can be worked on with the subcommands (ls, cat, put, rm, ...),
each opening the archive, applying its change and rewriting the archive, or
mounted as a FUSE filesystem which rewrites the archive when it is unmounted.

The following signals are observed and handled by a mounted filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGHUP rewrites the archive (when no files are open)
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

All settings can also be given as environment variables (see the help).
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/desertwitch/zipvfs/internal/config"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/spf13/cobra"
)

// Version is the program version (filled in from the Makefile).
var Version string

// app holds the state shared by all subcommands.
type app struct {
	cfg     *config.Config
	subdir  string
	create  bool
	verbose bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// logger returns the event log of the invocation. Events are only
// mirrored to standard error when verbose.
func (a *app) logger() *logging.RingBuffer {
	out := io.Discard
	if a.verbose {
		out = a.stderr
	}

	return logging.NewRingBuffer(a.cfg.RingBufferSize, out)
}

// session opens the archive along with all configured binds.
func (a *app) session(archive string, rbuf *logging.RingBuffer) (*session, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	return openSession(sessionOpts{
		cfg:     a.cfg,
		archive: archive,
		subdir:  a.subdir,
		create:  a.create,
	}, rbuf)
}

// run runs fn within a session on archive. The archive is rewritten
// afterwards if fn succeeded and modified it.
func (a *app) run(archive string, modifies bool, fn func(s *session) error) (err error) { //nolint:nonamedreturns
	s, err := a.session(archive, a.logger())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(s); err != nil {
		return err
	}

	if modifies {
		return s.Commit()
	}

	return nil
}

func rootCmd(cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		cfg:    cfg,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	cmd := &cobra.Command{
		Use:           helpTextUse,
		Short:         helpTextShort,
		Long:          helpTextLong,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Host directory to extract modified entries into (in RAM when empty)")
	flags.BoolVarP(&cfg.ReadOnly, "read-only", "r", cfg.ReadOnly, "Refuse all modifications of the archive")
	flags.BoolVar(&cfg.ForceStoreDirs, "force-store-dirs", cfg.ForceStoreDirs, "Write implicit parent directories as explicit records")
	flags.IntVar(&cfg.CompressionLevel, "compression-level", cfg.CompressionLevel, "DEFLATE level for modified entries (-2 to 9)")
	flags.BoolVar(&cfg.StoreIncompressible, "store-incompressible", cfg.StoreIncompressible, "Store already compressed formats uncompressed")
	flags.BoolVar(&cfg.MustCRC32, "must-crc32", cfg.MustCRC32, "Verify the checksum of uncompressed entries when read")
	flags.StringArrayVarP(&cfg.Binds, "bind", "b", cfg.Binds, "Mount a host directory into the archive (as /mountpoint=dir)")
	flags.StringVar(&a.subdir, "subdir", "", "Serve a directory of the archive as its root")
	flags.BoolVarP(&a.create, "create", "c", false, "Create the archive if it does not exist")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Print events to standard error (stderr)")

	cmd.AddCommand(
		lsCmd(a),
		statCmd(a),
		catCmd(a),
		putCmd(a),
		mkdirCmd(a),
		rmCmd(a),
		cpCmd(a),
		truncateCmd(a),
		findCmd(a),
		syncCmd(a),
		mountCmd(a),
	)

	return cmd
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd(cfg, os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
