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
	level, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, level)

	level, ok = ParseLevel("")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelInfo, level)

	level, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestNew_WritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Info("dropped")
	l.Warn("kept", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "WARN", entry["level"])
}
