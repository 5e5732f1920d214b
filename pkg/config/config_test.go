package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

const sampleYAML = `
log:
  level: debug
adapter:
  handshake_timeout: 2s
  library_dir: ${DYNBOARD_TEST_LIB_DIR}
boards:
  - name: acme-8
    library: libacme.so
    channels: 8
    singleton: true
    platforms: [linux, windows/amd64]
    symbols:
      read: acme_read
    fatal_read_codes: [7, 9]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dynboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Adapter, cfg.Adapter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 21600000, cfg.Adapter.MaxBufferSize)
	assert.Empty(t, cfg.Boards)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("DYNBOARD_TEST_LIB_DIR", "/opt/acme")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Adapter.HandshakeTimeout)
	assert.Equal(t, 5*time.Second, cfg.Adapter.JoinWarnAfter, "unset keys keep defaults")
	assert.Equal(t, "/opt/acme", cfg.Adapter.LibraryDir)

	require.Len(t, cfg.Boards, 1)
	b := cfg.Boards[0]
	assert.Equal(t, "acme-8", b.Name)
	assert.Equal(t, 8, b.Channels)
	assert.True(t, b.Singleton)
	assert.Equal(t, []string{"linux", "windows/amd64"}, b.Platforms)
	assert.Equal(t, "acme_read", b.Symbols["read"])
	assert.Equal(t, []int{7, 9}, b.FatalReadCodes)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DYNBOARD_ADAPTER_HANDSHAKE_TIMEOUT", "750ms")
	t.Setenv("DYNBOARD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Adapter.HandshakeTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "adapter: [not, a, map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "adapter:\n  handshake_timeout: 0s\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative retry delay", func(c *Config) { c.Adapter.ReadRetryDelay = -1 }},
		{"zero buffer", func(c *Config) { c.Adapter.MaxBufferSize = 0 }},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = 2 }},
		{"board without library", func(c *Config) {
			c.Boards = []BoardConfig{{Name: "x", Channels: 1}}
		}},
		{"board without channels", func(c *Config) {
			c.Boards = []BoardConfig{{Name: "x", Library: "libx.so"}}
		}},
		{"unknown symbol role", func(c *Config) {
			c.Boards = []BoardConfig{{Name: "x", Library: "libx.so", Channels: 1, Symbols: map[string]string{"poll": "x"}}}
		}},
		{"duplicate board", func(c *Config) {
			b := BoardConfig{Name: "x", Library: "libx.so", Channels: 1}
			c.Boards = []BoardConfig{b, b}
		}},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("DYNBOARD_TEST_LIB_DIR", "/opt/acme")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "effective.yaml")
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "handshake_timeout: 2s")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("DYNBOARD_TEST_VALUE", "42")
	assert.Equal(t, "a: 42, b: ", substituteEnvVars("a: ${DYNBOARD_TEST_VALUE}, b: ${DYNBOARD_TEST_UNSET_VALUE}"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}
