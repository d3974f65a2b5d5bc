package persistence

import (
	"strings"
	"time"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/exec"
)

// Run status values. A run stays "running" until its summary is saved.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// maxStoredOutput bounds stdout and stderr kept per command.
const maxStoredOutput = 16 * 1024

// Run is one row of the runs table.
type Run struct {
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	ID               string     `json:"id"`
	Request          string     `json:"request"`
	Model            string     `json:"model"`
	Workspace        string     `json:"workspace"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	TotalSteps       int        `json:"total_steps"`
	Succeeded        int        `json:"succeeded"`
	Failed           int        `json:"failed"`
	LongRunning      int        `json:"long_running"`
	TimedOut         int        `json:"timed_out"`
	Recovered        int        `json:"recovered"`
	Skipped          int        `json:"skipped"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	CostUSD          float64    `json:"cost_usd"`
	DurationMS       int64      `json:"duration_ms"`
}

// Step is one row of the steps table.
type Step struct {
	RunID             string `json:"run_id"`
	Position          int    `json:"position"`
	Ordinal           int    `json:"ordinal"`
	Title             string `json:"title"`
	Text              string `json:"text"`
	LongRunning       bool   `json:"long_running"`
	Outcome           string `json:"outcome"`
	Error             string `json:"error,omitempty"`
	FilesChanged      int    `json:"files_changed"`
	Commands          int    `json:"commands"`
	Warnings          string `json:"warnings,omitempty"`
	DurationMS        int64  `json:"duration_ms"`
	RecoveryAttempted bool   `json:"recovery_attempted"`
	RecoverySucceeded bool   `json:"recovery_succeeded"`
}

// Command is one row of the commands table.
type Command struct {
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Command     string     `json:"command"`
	Cwd         string     `json:"cwd"`
	State       string     `json:"state"`
	Stdout      string     `json:"stdout,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
	ExitCode    int        `json:"exit_code"`
	Attempt     int        `json:"attempt"`
	LongRunning bool       `json:"long_running"`
}

// LLMCall is one row of the llm_calls table.
type LLMCall struct {
	CreatedAt        time.Time `json:"created_at"`
	RunID            string    `json:"run_id"`
	Model            string    `json:"model"`
	Purpose          string    `json:"purpose"`
	ErrorType        string    `json:"error_type,omitempty"`
	ID               int64     `json:"id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	DurationMS       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`
}

// RunDetail is a run with its steps and call totals.
type RunDetail struct {
	Run      *Run
	Steps    []*Step
	Commands []*Command
	Calls    []*LLMCall
}

// RunFromSummary converts a finished run summary.
func RunFromSummary(s *engine.Summary) *Run {
	status := RunStatusCompleted
	if s.State == engine.StateAborted {
		status = RunStatusAborted
	}
	finished := s.StartedAt.Add(s.Duration)
	return &Run{
		ID:               s.RunID,
		Request:          s.Request,
		Status:           status,
		Error:            s.Error,
		TotalSteps:       s.Total,
		Succeeded:        s.Succeeded,
		Failed:           s.Failed,
		LongRunning:      s.LongRunning,
		TimedOut:         s.TimedOut,
		Recovered:        s.Recovered,
		Skipped:          s.Skipped,
		PromptTokens:     int64(s.Usage.PromptTokens),
		CompletionTokens: int64(s.Usage.CompletionTokens),
		StartedAt:        s.StartedAt,
		FinishedAt:       &finished,
		DurationMS:       s.Duration.Milliseconds(),
	}
}

// StepsFromSummary converts the step results of a summary, in execution order.
func StepsFromSummary(s *engine.Summary) []*Step {
	steps := make([]*Step, 0, len(s.Steps))
	for i := range s.Steps {
		res := &s.Steps[i]
		changed := 0
		for _, f := range res.Files {
			if f.Changed {
				changed++
			}
		}
		step := &Step{
			RunID:       s.RunID,
			Position:    i + 1,
			Ordinal:     res.Step.Ordinal,
			Title:       res.Step.Title(),
			Text:        res.Step.Text,
			LongRunning: res.Step.LongRunning,
			Outcome:     string(res.Outcome),
			Error:       res.Error,
			// Commands counts the commands the step itself issued.
			Commands:     len(res.Commands),
			FilesChanged: changed,
			Warnings:     strings.Join(res.Warnings, "\n"),
			DurationMS:   res.Duration.Milliseconds(),
		}
		if res.Recovery != nil {
			step.RecoveryAttempted = true
			step.RecoverySucceeded = res.Recovery.Succeeded
		}
		steps = append(steps, step)
	}
	return steps
}

// CommandFromExecution converts a session record. Long outputs keep their tail.
func CommandFromExecution(runID string, e *exec.CommandExecution) *Command {
	cmd := &Command{
		ID:          e.ID,
		RunID:       runID,
		Command:     e.Command,
		Cwd:         e.Cwd,
		State:       string(e.State),
		ExitCode:    e.ExitCode,
		LongRunning: e.LongRunning,
		Attempt:     e.Attempt,
		Stdout:      tail(e.Stdout),
		Stderr:      tail(e.Stderr),
		StartedAt:   e.StartedAt,
	}
	if !e.FinishedAt.IsZero() {
		finished := e.FinishedAt
		cmd.FinishedAt = &finished
	}
	return cmd
}

func tail(s string) string {
	if len(s) <= maxStoredOutput {
		return s
	}
	return s[len(s)-maxStoredOutput:]
}
