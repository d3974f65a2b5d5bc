package engine

import (
	"context"
	"fmt"
	"time"

	"taskpilot/pkg/exec"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/materialize"
)

// Outcome is how a step ended.
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeLongRunning Outcome = "long_running"
	OutcomeRecovered   Outcome = "recovered"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	// OutcomeSkipped marks steps never started because the run was cancelled.
	OutcomeSkipped Outcome = "skipped"
)

// CommandRunner executes shell commands. *exec.Runner implements it.
type CommandRunner interface {
	// Run retries failing commands and returns *exec.CommandFailedError after the last attempt.
	Run(ctx context.Context, command string) (exec.CommandResult, error)
	// RunOnce makes a single attempt.
	RunOnce(ctx context.Context, command string) (exec.CommandResult, error)
}

// Observer receives step and recovery outcomes. *metrics.PrometheusRecorder implements it.
type Observer interface {
	ObserveStep(outcome string)
	ObserveRecovery(success bool)
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, summary *Summary) error
}

// StepResult is the record of one executed step.
type StepResult struct {
	Step     markers.PlanStep
	Outcome  Outcome
	Files    []materialize.Result
	Commands []exec.CommandResult
	Warnings []string
	Recovery *RecoveryReport
	// Error is the failure message for failed and timed out steps.
	Error     string
	Usage     llm.Usage
	StartedAt time.Time
	Duration  time.Duration
}

// Summary is the result of a run.
type Summary struct {
	RunID   string
	Request string
	State   State

	Total       int
	Succeeded   int // includes recovered steps
	Failed      int
	LongRunning int
	TimedOut    int
	Recovered   int
	Skipped     int

	Plan  []markers.PlanStep
	Steps []StepResult
	Usage llm.Usage

	// Error is set when the run was aborted.
	Error string
	// Warnings are the warnings logged while the run was active.
	Warnings []string

	StartedAt time.Time
	Duration  time.Duration
}

func (s *Summary) count(res StepResult) {
	switch res.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeRecovered:
		s.Succeeded++
		s.Recovered++
	case OutcomeLongRunning:
		s.LongRunning++
	case OutcomeFailed:
		s.Failed++
	case OutcomeTimedOut:
		s.TimedOut++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Status is one progress message of a run.
type Status struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id"`
	State   State     `json:"state"`
	Step    int       `json:"step,omitempty"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Message string    `json:"message"`
}

// String formats the status for humans.
func (s Status) String() string {
	if s.Step > 0 {
		return fmt.Sprintf("[%s] step %d: %s", s.State, s.Step, s.Message)
	}
	return fmt.Sprintf("[%s] %s", s.State, s.Message)
}

// StatusSink receives progress messages.
type StatusSink interface {
	Status(status Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

// Status implements StatusSink.
func (f StatusFunc) Status(status Status) {
	f(status)
}
