// Package exec runs shell commands for plan steps.
//
// Each command gets its own session with a fresh id. Output is redirected to capture files,
// the runner waits for the session to end and reads the captures back. Commands that look like
// dev servers or watchers are dispatched and never awaited.
package exec

import (
	"errors"
	"fmt"
	"time"
)

// SessionState is the lifecycle of one command session.
type SessionState string

// Session states. Dispatched moves to exactly one of Completed or Abandoned.
const (
	StateDispatched SessionState = "dispatched"
	StateCompleted  SessionState = "completed"
	StateAbandoned  SessionState = "abandoned"
)

// ErrCommandFailed is wrapped by CommandFailedError.
var ErrCommandFailed = errors.New("command failed")

// CommandExecution is the record of one dispatched command.
type CommandExecution struct {
	ID          string
	Command     string
	Cwd         string
	Stdout      string
	Stderr      string
	ExitCode    int
	LongRunning bool
	State       SessionState
	Attempt     int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is zero until the session completes.
func (e *CommandExecution) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Success reports a completed session with exit code 0, or any abandoned session.
func (e *CommandExecution) Success() bool {
	if e.State == StateAbandoned {
		return true
	}
	return e.State == StateCompleted && e.ExitCode == 0
}

// Output joins stdout and stderr for display and prompts.
func (e *CommandExecution) Output() string {
	switch {
	case e.Stdout == "":
		return e.Stderr
	case e.Stderr == "":
		return e.Stdout
	default:
		return e.Stdout + "\n" + e.Stderr
	}
}

// CommandResult is what Run returns for a command.
type CommandResult struct {
	Execution CommandExecution
	Success   bool
	Output    string
	Attempts  int
}

// CommandFailedError reports a command that still failed after all attempts.
type CommandFailedError struct {
	Execution CommandExecution
	Attempts  int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("%s: %q exited with code %d after %d attempt(s)",
		ErrCommandFailed, e.Execution.Command, e.Execution.ExitCode, e.Attempts)
}

func (e *CommandFailedError) Unwrap() error {
	return ErrCommandFailed
}
