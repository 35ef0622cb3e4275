package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)

	log.Debugf("dropped %d", 1)
	log.Infof("dropped %d", 2)
	log.Warnf("kept %d", 3)
	log.Errorf("kept %d", 4)

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)
}

func TestFormattedOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Infof("trimmed %s to %d seconds", "replay.mp4", 30)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "trimmed replay.mp4 to 30 seconds", record["msg"])
	assert.Equal(t, "INFO", record["level"])
}

func TestNopLoggerDiscards(t *testing.T) {
	log := NewNop()
	log.Debugf("x")
	log.Infof("x")
	log.Warnf("x")
	log.Errorf("x")
}
