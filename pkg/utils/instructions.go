package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// InstructionsFile holds project instructions appended to every system prompt.
	InstructionsFile = "INSTRUCTIONS.md"

	// InstructionsTokenLimit is the token limit for the instructions file.
	InstructionsTokenLimit = 2000
	// InstructionsCharLimit is the character limit for the instructions file.
	InstructionsCharLimit = 8000
)

// LoadInstructions reads dir/INSTRUCTIONS.md. A missing or blank file yields "".
// An unreadable or oversized file is an error.
func LoadInstructions(dir string) (string, error) {
	path := filepath.Join(dir, InstructionsFile)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w (please check file permissions)", InstructionsFile, err)
	}

	text := strings.TrimSpace(string(content))
	if len(text) > InstructionsCharLimit {
		return "", fmt.Errorf("%s exceeds character limit of %d (current: %d)",
			InstructionsFile, InstructionsCharLimit, len(text))
	}
	if tokens := CountTokensSimple(text); tokens > InstructionsTokenLimit {
		return "", fmt.Errorf("%s exceeds token limit of %d (current: %d)",
			InstructionsFile, InstructionsTokenLimit, tokens)
	}
	return text, nil
}
