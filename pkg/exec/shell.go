package exec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// DefaultShell runs commands when no shell is configured.
const DefaultShell = "/bin/sh"

// SessionSpec describes one command session and where its captures go.
type SessionSpec struct {
	ID           string
	Command      string
	Cwd          string
	Env          []string
	StdoutPath   string
	StderrPath   string
	ExitCodePath string
}

// Session is a started command.
type Session interface {
	ID() string
	// Wait blocks until the process ends and returns its exit code.
	Wait() (int, error)
}

// Shell starts command sessions.
type Shell interface {
	Start(spec SessionSpec) (Session, error)
}

// LocalShell runs commands with "<shell> -c" on the host.
type LocalShell struct {
	Path string
}

// NewLocalShell creates a shell; an empty path uses DefaultShell.
func NewLocalShell(path string) *LocalShell {
	if path == "" {
		path = DefaultShell
	}
	return &LocalShell{Path: path}
}

// Start launches the command. The process is not tied to any context, so cancelling a caller
// stops its waiting but never kills the process.
func (s *LocalShell) Start(spec SessionSpec) (Session, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}
	if spec.Cwd != "" {
		if info, err := os.Stat(spec.Cwd); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("working directory does not exist: %s", spec.Cwd)
		}
	}

	stdout, err := os.Create(spec.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout capture: %w", err)
	}
	stderr, err := os.Create(spec.StderrPath)
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to create stderr capture: %w", err)
	}

	cmd := exec.Command(s.Path, "-c", spec.Command) //nolint:gosec // running model-proposed commands is the purpose
	cmd.Dir = spec.Cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("failed to start %q: %w", spec.Command, err)
	}

	return &localSession{spec: spec, cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type localSession struct {
	spec   SessionSpec
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	once     sync.Once
	exitCode int
	err      error
}

func (s *localSession) ID() string {
	return s.spec.ID
}

// Wait is safe to call more than once; the process is reaped exactly once.
func (s *localSession) Wait() (int, error) {
	s.once.Do(func() {
		err := s.cmd.Wait()
		_ = s.stdout.Close()
		_ = s.stderr.Close()

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			s.exitCode = 0
		case errors.As(err, &exitErr):
			s.exitCode = exitErr.ExitCode()
		default:
			s.exitCode = -1
			s.err = err
		}

		if s.spec.ExitCodePath != "" {
			if werr := os.WriteFile(s.spec.ExitCodePath, []byte(strconv.Itoa(s.exitCode)), 0o644); werr != nil && s.err == nil {
				s.err = fmt.Errorf("failed to write exit code capture: %w", werr)
			}
		}
	})
	return s.exitCode, s.err
}
