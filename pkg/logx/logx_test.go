package logx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("engine").Info("Test message with %s", "formatting")

	output := buf.String()
	assert.Contains(t, output, "engine")
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "Test message with formatting")
	assert.Contains(t, output, "Z")
}

func TestLogLevels(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(true)
	defer SetDebugConfig(false)

	logger := NewLogger("levels")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("message")
		assert.Contains(t, buf.String(), tt.expected)
	}
}

func TestDebugToggle(t *testing.T) {
	buf := captureOutput(t)
	logger := NewLogger("toggle")

	SetDebugConfig(false)
	logger.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetDebugConfig(true)
	defer SetDebugConfig(false)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDebugDomains(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(true)
	SetDebugDomains([]string{"exec"})
	defer func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	}()

	ctx := WithComponent(context.Background(), "runner")
	Debug(ctx, "exec", "dispatching %s", "ls")
	Debug(ctx, "engine", "not for this domain")

	output := buf.String()
	assert.Contains(t, output, "[exec] dispatching ls")
	assert.Contains(t, output, "runner")
	assert.NotContains(t, output, "not for this domain")

	assert.True(t, IsDebugEnabledForDomain("exec"))
	assert.False(t, IsDebugEnabledForDomain("engine"))
}

func TestRecentEntries(t *testing.T) {
	captureOutput(t)
	start := time.Now().Add(-time.Millisecond)

	logger := NewLogger("recent")
	logger.Info("informational")
	logger.Warn("careful")

	warnings := RecentEntries(start, LevelWarn)
	require.NotEmpty(t, warnings)
	last := warnings[len(warnings)-1]
	assert.Equal(t, "recent", last.Component)
	assert.Equal(t, "careful", last.Message)
}

func TestWrap(t *testing.T) {
	captureOutput(t)
	assert.Nil(t, Wrap(nil, "noop"))

	base := os.ErrNotExist
	err := Wrap(base, "open config")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.True(t, strings.HasPrefix(err.Error(), "open config: "))
}

func TestInitializeLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitializeLogFile(dir, false))

	NewLogger("file").Info("persisted line")
	require.NoError(t, CloseLogFile())

	matches, err := filepath.Glob(filepath.Join(dir, "taskpilot-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"persisted line"`)
	assert.Contains(t, string(data), `"component":"file"`)
}
