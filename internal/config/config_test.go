package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Expectation: Load should return the defaults with an empty environment.
func Test_Load_Defaults_Success(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, Default(), cfg)
}

// Expectation: Load should apply all prefixed environment variables.
func Test_Load_Environment_Success(t *testing.T) {
	t.Setenv("ZIPVFS_CACHE_DIR", "/tmp/cache")
	t.Setenv("ZIPVFS_READ_ONLY", "true")
	t.Setenv("ZIPVFS_COMPRESSION_LEVEL", "9")
	t.Setenv("ZIPVFS_STORE_INCOMPRESSIBLE", "false")
	t.Setenv("ZIPVFS_MUST_CRC32", "true")
	t.Setenv("ZIPVFS_BIND", "/host=/srv,/docs=/usr/share/doc")
	t.Setenv("ZIPVFS_WEBSERVER", ":8000")
	t.Setenv("ZIPVFS_RING_BUFFER_SIZE", "20")
	t.Setenv("ZIPVFS_ATTR_CACHE_TTL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/tmp/cache", cfg.CacheDir)
	require.True(t, cfg.ReadOnly)
	require.Equal(t, 9, cfg.CompressionLevel)
	require.False(t, cfg.StoreIncompressible)
	require.True(t, cfg.MustCRC32)
	require.Equal(t, []string{"/host=/srv", "/docs=/usr/share/doc"}, cfg.Binds)
	require.Equal(t, ":8000", cfg.Webserver)
	require.Equal(t, 20, cfg.RingBufferSize)
	require.Equal(t, time.Minute, cfg.AttrCacheTTL)
}

// Expectation: Load should fail on a value of the wrong type.
func Test_Load_BadValue_Error(t *testing.T) {
	t.Setenv("ZIPVFS_READ_ONLY", "maybe")

	_, err := Load()
	require.ErrorContains(t, err, "failed to load config")
}

// Expectation: Load should fail on an out of range compression level.
func Test_Load_BadCompressionLevel_Error(t *testing.T) {
	t.Setenv("ZIPVFS_COMPRESSION_LEVEL", "12")

	_, err := Load()
	require.ErrorIs(t, err, errInvalidConfig)
}

// Expectation: Validate should reject bad ring buffer sizes and binds.
func Test_Config_Validate_Error(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.RingBufferSize = 0
	require.ErrorIs(t, cfg.Validate(), errInvalidConfig)

	cfg = Default()
	cfg.Binds = []string{"/ok=/srv", "broken"}
	require.ErrorIs(t, cfg.Validate(), errInvalidConfig)

	require.NoError(t, Default().Validate())
}

// Expectation: ParseBind should split and normalize valid binds only.
func Test_ParseBind_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bind    string
		mount   string
		dir     string
		wantErr bool
	}{
		{bind: "/host=/srv", mount: "/host", dir: "/srv"},
		{bind: "/a/b/../c/=rel/dir", mount: "/a/c", dir: "rel/dir"},
		{bind: "/host", wantErr: true},
		{bind: "/host=", wantErr: true},
		{bind: "host=/srv", wantErr: true},
		{bind: "/=/srv", wantErr: true},
	}

	for _, tt := range tests {
		mount, dir, err := ParseBind(tt.bind)
		if tt.wantErr {
			require.ErrorIs(t, err, errInvalidConfig, tt.bind)

			continue
		}
		require.NoError(t, err, tt.bind)
		require.Equal(t, tt.mount, mount)
		require.Equal(t, tt.dir, dir)
	}
}
