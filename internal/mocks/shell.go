package mocks

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"taskpilot/pkg/exec"
)

// ShellResult scripts how a mock session ends.
type ShellResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Delay is slept inside Wait before the session ends.
	Delay time.Duration
}

// MockShell implements exec.Shell without spawning processes. Sessions write their scripted
// captures to the paths in the spec, like a real shell would.
type MockShell struct {
	// ResultFunc decides how each command ends. Default: exit 0 with no output.
	ResultFunc func(spec exec.SessionSpec) ShellResult

	// StartErr, when set, makes Start fail for every command.
	StartErr error

	mu     sync.Mutex
	starts []exec.SessionSpec
}

// NewMockShell creates a shell whose commands all succeed.
func NewMockShell() *MockShell {
	return &MockShell{
		ResultFunc: func(exec.SessionSpec) ShellResult { return ShellResult{} },
	}
}

// Start implements exec.Shell.
func (m *MockShell) Start(spec exec.SessionSpec) (exec.Session, error) {
	m.mu.Lock()
	m.starts = append(m.starts, spec)
	startErr := m.StartErr
	resultFunc := m.ResultFunc
	m.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	return &mockSession{spec: spec, result: resultFunc(spec)}, nil
}

// --- Configuration methods ---

// FailCommands makes the listed commands exit 1 with stderr "<command>: failed".
func (m *MockShell) FailCommands(commands ...string) {
	failing := make(map[string]bool, len(commands))
	for _, c := range commands {
		failing[c] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResultFunc = func(spec exec.SessionSpec) ShellResult {
		if failing[spec.Command] {
			return ShellResult{ExitCode: 1, Stderr: spec.Command + ": failed"}
		}
		return ShellResult{Stdout: "ok"}
	}
}

// --- Verification methods ---

// Commands returns every started command in order.
func (m *MockShell) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.starts))
	for i, s := range m.starts {
		out[i] = s.Command
	}
	return out
}

// CountOf returns how often command was started.
func (m *MockShell) CountOf(command string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.starts {
		if s.Command == command {
			n++
		}
	}
	return n
}

type mockSession struct {
	spec   exec.SessionSpec
	result ShellResult
	once   sync.Once
	err    error
}

func (s *mockSession) ID() string {
	return s.spec.ID
}

func (s *mockSession) Wait() (int, error) {
	s.once.Do(func() {
		if s.result.Delay > 0 {
			time.Sleep(s.result.Delay)
		}
		for path, content := range map[string]string{
			s.spec.StdoutPath:   s.result.Stdout,
			s.spec.StderrPath:   s.result.Stderr,
			s.spec.ExitCodePath: strconv.Itoa(s.result.ExitCode),
		} {
			if path == "" {
				continue
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				s.err = fmt.Errorf("mock capture: %w", err)
			}
		}
	})
	return s.result.ExitCode, s.err
}
