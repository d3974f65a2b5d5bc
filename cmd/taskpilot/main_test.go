package main

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

	"taskpilot/pkg/config"
	"taskpilot/pkg/engine"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/persistence"
)

func execCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runCLI(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// withStdin replaces os.Stdin with a file holding content.
func withStdin(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	old := os.Stdin
	os.Stdin = f
	t.Cleanup(func() {
		os.Stdin = old
		_ = f.Close()
	})
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := execCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "taskpilot dev")
}

func TestUnknownCommandFails(t *testing.T) {
	code, _, errOut := execCLI(t, "frobnicate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestMissingWorkspace(t *testing.T) {
	code, _, errOut := execCLI(t, "context", "-w", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "is not a directory")
}

func TestContextCommand(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.go", "package main\n")
	writeFile(t, ws, "docs/readme.md", "# hi\n")
	writeFile(t, ws, "node_modules/x/index.js", "x")

	code, out, _ := execCLI(t, "context", "-w", ws)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "docs/readme.md")
	assert.NotContains(t, out, "index.js")

	code, out, _ = execCLI(t, "context", "-w", ws, "--exclude", "docs/**")
	require.Equal(t, exitOK, code)
	included := out[:strings.Index(out, "Excluded")]
	assert.NotContains(t, included, "docs/readme.md")

	code, out, _ = execCLI(t, "context", "-w", ws, "--contents")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "package main")

	code, _, errOut := execCLI(t, "context", "-w", ws, "--include", "[")
	assert.Equal(t, exitError, code)
	assert.NotEmpty(t, errOut)
}

func TestHistoryCommand(t *testing.T) {
	ws := t.TempDir()
	code, out, _ := execCLI(t, "history", "-w", ws)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "No runs recorded")

	store, err := persistence.Open(filepath.Join(ws, config.DefaultHistoryDB))
	require.NoError(t, err)
	rec, err := store.StartRun(context.Background(), &persistence.Run{ID: "0123456789abcdef", Request: "create a.txt", Model: "mock"})
	require.NoError(t, err)
	require.NoError(t, rec.SaveRun(context.Background(), &engine.Summary{
		RunID:     "0123456789abcdef",
		Request:   "create a.txt",
		State:     engine.StateCompleted,
		Total:     1,
		Succeeded: 1,
		StartedAt: time.Now(),
		Steps: []engine.StepResult{{
			Step:    markers.PlanStep{Ordinal: 1, Text: "Create a.txt"},
			Outcome: engine.OutcomeSucceeded,
		}},
	}))
	rec.Close()
	require.NoError(t, store.Close())

	code, out, _ = execCLI(t, "history", "-w", ws)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "create a.txt")

	code, out, _ = execCLI(t, "history", "-w", ws, "0123")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Create a.txt")

	code, out, _ = execCLI(t, "history", "-w", ws, "--json")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, `"id": "0123456789abcdef"`)

	code, _, errOut := execCLI(t, "history", "-w", ws, "ffff")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "run not found")
}

func TestSecretsSetAndList(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvPassword, "correct horse")
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })

	withStdin(t, "sk-test-value\n")
	code, out, errOut := execCLI(t, "secrets", "set", "ANTHROPIC_API_KEY", "-w", ws)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Saved ANTHROPIC_API_KEY")
	assert.FileExists(t, config.SecretsFilePath(ws))

	config.SetDecryptedSecrets(nil)
	code, out, _ = execCLI(t, "secrets", "list", "-w", ws)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "ANTHROPIC_API_KEY\n", out)
	assert.NotContains(t, out, "sk-test-value")

	t.Setenv(EnvPassword, "wrong")
	code, _, _ = execCLI(t, "secrets", "list", "-w", ws)
	assert.Equal(t, exitError, code)
}

func TestReadRequest(t *testing.T) {
	req, err := readRequest([]string{"create", "a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "create a.txt", req)

	req, err = readRequest([]string{"-"}, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", req)

	_, err = readRequest([]string{" "}, nil)
	assert.Error(t, err)
}

func TestExitStatus(t *testing.T) {
	assert.NoError(t, exitStatus(&engine.Summary{State: engine.StateCompleted}, nil))
	assert.Equal(t, errExit(exitStepsFailed), exitStatus(&engine.Summary{State: engine.StateCompleted, Failed: 1}, nil))
	assert.Equal(t, errExit(exitStepsFailed), exitStatus(&engine.Summary{State: engine.StateCompleted, TimedOut: 1}, nil))
	assert.Equal(t, errExit(exitAborted), exitStatus(&engine.Summary{State: engine.StateAborted}, assert.AnError))
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(&engine.Summary{
		RunID:     "r1",
		State:     engine.StateCompleted,
		Total:     2,
		Succeeded: 1,
		Failed:    1,
		Warnings:  []string{"model returned no commands"},
		Steps: []engine.StepResult{
			{Step: markers.PlanStep{Ordinal: 1, Text: "Create a.txt"}, Outcome: engine.OutcomeSucceeded},
			{Step: markers.PlanStep{Ordinal: 2, Text: "Run tests"}, Outcome: engine.OutcomeFailed, Error: "command failed"},
		},
	}, nil, 1)
	for _, want := range []string{"r1", "Create a.txt", "Run tests", "command failed", "model returned no commands", "1 session(s) still running"} {
		assert.Contains(t, out, want)
	}
}

func TestReadLineStopsAtNewline(t *testing.T) {
	r := strings.NewReader("first\nsecond")
	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "first", string(line))
	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "second", string(line))
	_, err = readLine(r)
	assert.Error(t, err)
}

func TestDoctorCommand(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(config.EnvAnthropicAPIKey, "sk-test")
	code, out, _ := execCLI(t, "doctor", "-w", ws)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "All 3 preflight checks passed")

	t.Setenv(config.EnvAnthropicAPIKey, "")
	code, out, _ = execCLI(t, "doctor", "-w", ws)
	assert.Equal(t, exitError, code)
	assert.Contains(t, out, "[FAIL] model")
}

func TestRunFailsPreflightWithoutCredentials(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(config.EnvAnthropicAPIKey, "")
	code, _, errOut := execCLI(t, "run", "-w", ws, "create a.txt")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "preflight failed")
	assert.NoFileExists(t, filepath.Join(ws, config.DefaultHistoryDB))
}
