package probecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaytrim/internal/logger"
)

func tempRecording(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSetAndGet(t *testing.T) {
	c := New(logger.NewNop())
	path := tempRecording(t, "recording")

	c.Set(path, 42.5)
	d, ok := c.Get(path)
	require.True(t, ok)
	assert.Equal(t, 42.5, d)
	assert.Equal(t, 1, c.Len())
}

func TestGetMiss(t *testing.T) {
	c := New(logger.NewNop())
	_, ok := c.Get("/tmp/never-probed.mp4")
	assert.False(t, ok)
}

func TestGetInvalidatesOnChange(t *testing.T) {
	c := New(logger.NewNop())
	path := tempRecording(t, "recording")
	c.Set(path, 42.5)

	// Grow the file; the cached probe no longer describes it.
	require.NoError(t, os.WriteFile(path, []byte("recording plus more"), 0o644))

	_, ok := c.Get(path)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestGetInvalidatesOnMtime(t *testing.T) {
	c := New(logger.NewNop())
	path := tempRecording(t, "recording")
	c.Set(path, 42.5)

	// Same size, different mtime.
	stamp := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	_, ok := c.Get(path)
	assert.False(t, ok)
}

func TestGetInvalidatesOnRemoval(t *testing.T) {
	c := New(logger.NewNop())
	path := tempRecording(t, "recording")
	c.Set(path, 42.5)

	require.NoError(t, os.Remove(path))
	_, ok := c.Get(path)
	assert.False(t, ok)
}

func TestSetVanishedFileIgnored(t *testing.T) {
	c := New(logger.NewNop())
	c.Set("/tmp/does-not-exist.mp4", 42.5)
	assert.Equal(t, 0, c.Len())
}

func TestEvictionDropsStaleEntries(t *testing.T) {
	c := New(logger.NewNop())
	fresh := tempRecording(t, "fresh")
	stale := tempRecording(t, "stale")

	c.Set(fresh, 10)
	c.Set(stale, 20)
	require.NoError(t, os.Remove(stale))

	c.runEviction()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(fresh)
	assert.True(t, ok)
}

func TestStartStop(t *testing.T) {
	c := New(logger.NewNop())
	c.Start()
	c.Stop()
}
