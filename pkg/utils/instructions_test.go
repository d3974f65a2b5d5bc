package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInstructionsMissing(t *testing.T) {
	text, err := LoadInstructions(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestLoadInstructionsTrims(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, InstructionsFile), []byte("\n  Use tabs.\n\n"), 0o644))

	text, err := LoadInstructions(dir)
	require.NoError(t, err)
	assert.Equal(t, "Use tabs.", text)
}

func TestLoadInstructionsTooLong(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("a", InstructionsCharLimit+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, InstructionsFile), []byte(long), 0o644))

	_, err := LoadInstructions(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "character limit")
}

func TestLoadInstructionsUnreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory in place of the file cannot be read.
	require.NoError(t, os.Mkdir(filepath.Join(dir, InstructionsFile), 0o755))

	_, err := LoadInstructions(dir)
	require.Error(t, err)
}
