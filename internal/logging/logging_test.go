package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ibeckermayer/kolwatch/internal/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	Component(l, "pipeline").Info("run finished", "posts", 3)
	Component(l, "pipeline").Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "pipeline", rec["component"])
	assert.Equal(t, "run finished", rec["msg"])
	assert.Equal(t, float64(3), rec["posts"])

	_, err = New(&buf, config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestOutput(t *testing.T) {
	assert.Same(t, os.Stderr, Output(config.LoggingConfig{}, os.Stderr))

	path := filepath.Join(t.TempDir(), "kolwatch.log")
	w := Output(config.LoggingConfig{File: path, MaxSizeMB: 1}, os.Stderr)
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	defer lj.Close()

	l, err := New(w, config.LoggingConfig{})
	require.NoError(t, err)
	l.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
}

func TestComponentNilLogger(t *testing.T) {
	assert.NotNil(t, Component(nil, "x"))
	Discard().Error("dropped")
}
