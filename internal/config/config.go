// Package config implements the environment configuration of the program.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/kelseyhightower/envconfig"
	"github.com/klauspost/compress/flate"
)

// Prefix is the prefix of all environment variables, e.g. ZIPVFS_CACHE_DIR.
const Prefix = "ZIPVFS"

var errInvalidConfig = errors.New("invalid configuration")

// Config holds all program configuration. Command line flags are applied
// on top of it.
type Config struct {
	// CacheDir is a host directory for extracted entries, kept in RAM if empty.
	CacheDir string `envconfig:"CACHE_DIR"`

	ReadOnly            bool `envconfig:"READ_ONLY"            default:"false"`
	ForceStoreDirs      bool `envconfig:"FORCE_STORE_DIRS"     default:"false"`
	StoreIncompressible bool `envconfig:"STORE_INCOMPRESSIBLE" default:"true"`
	MustCRC32           bool `envconfig:"MUST_CRC32"           default:"false"`
	CompressionLevel    int  `envconfig:"COMPRESSION_LEVEL"    default:"-1"`

	// Binds are additional host directories to mount, as "/mountpoint=dir".
	Binds []string `envconfig:"BIND"`

	Webserver      string        `envconfig:"WEBSERVER"`
	RingBufferSize int           `envconfig:"RING_BUFFER_SIZE" default:"500"`
	AttrCacheSize  uint64        `envconfig:"ATTR_CACHE_SIZE"  default:"4096"`
	AttrCacheTTL   time.Duration `envconfig:"ATTR_CACHE_TTL"   default:"5s"`
}

// Default returns the configuration without any environment applied.
func Default() *Config {
	return &Config{
		StoreIncompressible: true,
		CompressionLevel:    flate.DefaultCompression,
		RingBufferSize:      500, //nolint:mnd
		AttrCacheSize:       4096, //nolint:mnd
		AttrCacheTTL:        5 * time.Second, //nolint:mnd
	}
}

// Load returns the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks all values for consistency.
func (c *Config) Validate() error {
	if c.CompressionLevel < flate.HuffmanOnly || c.CompressionLevel > flate.BestCompression {
		return fmt.Errorf("%w: compression level %d not within [%d, %d]",
			errInvalidConfig, c.CompressionLevel, flate.HuffmanOnly, flate.BestCompression)
	}
	if c.RingBufferSize < 1 {
		return fmt.Errorf("%w: ring buffer size must be positive", errInvalidConfig)
	}

	for _, b := range c.Binds {
		if _, _, err := ParseBind(b); err != nil {
			return err
		}
	}

	return nil
}

// ParseBind splits a bind of the form "/mountpoint=dir".
func ParseBind(bind string) (mountPoint, dir string, err error) { //nolint:nonamedreturns
	mountPoint, dir, ok := strings.Cut(bind, "=")
	if !ok || dir == "" {
		return "", "", fmt.Errorf("%w: bind %q is not in format /mountpoint=dir", errInvalidConfig, bind)
	}

	mountPoint = vfs.Clean(mountPoint)
	if !vfs.IsAbs(mountPoint) || mountPoint == "/" {
		return "", "", fmt.Errorf("%w: bind %q needs an absolute mount point below /", errInvalidConfig, bind)
	}

	return mountPoint, dir, nil
}
