package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, lvl)

	lvl, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, lvl)
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfs.log")

	require.NoError(t, Init(Config{Level: "DEBUG", Format: "json", Output: path}))
	t.Cleanup(func() {
		_ = Init(Config{Level: "INFO"})
	})

	assert.True(t, Enabled(LevelDebug))
	Debug("resolved %s", "/a/b")
	Info("pool size %d", 3)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"resolved /a/b"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestSetLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfs.log")
	require.NoError(t, Init(Config{Level: "INFO", Output: path}))
	t.Cleanup(func() {
		_ = Init(Config{Level: "INFO"})
	})

	SetLevel("ERROR")
	assert.False(t, Enabled(LevelWarn))
	Warn("dropped")
	Error("kept")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}
