package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replaytrim.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":8573", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 300, cfg.BufferLengthSeconds)
	assert.Equal(t, "_trimmed", cfg.OutputSuffix)
	assert.True(t, cfg.RemoveSourceAfterTrim)
	assert.Equal(t, 2, cfg.TrimWorkers)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"listen_addr": ":9000",
		"log_level": "debug",
		"buffer_length_seconds": 600,
		"output_suffix": "_clip",
		"remove_source_after_trim": false,
		"trim_workers": 4
	}`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 600, cfg.BufferLengthSeconds)
	assert.Equal(t, "_clip", cfg.OutputSuffix)
	assert.False(t, cfg.RemoveSourceAfterTrim)
	assert.Equal(t, 4, cfg.TrimWorkers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	t.Run("buffer length must be positive", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{"buffer_length_seconds": 0}`))
		assert.Error(t, err)
	})

	t.Run("workers must be positive", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{"trim_workers": -1}`))
		assert.Error(t, err)
	})

	t.Run("suffix must not be empty", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{"output_suffix": ""}`))
		assert.Error(t, err)
	})
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("REPLAYTRIM_LISTEN_ADDR", ":7777")
	t.Setenv("REPLAYTRIM_TRIM_WORKERS", "8")

	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.TrimWorkers)
}
