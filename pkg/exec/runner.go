package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/pkg/logx"
)

// RetryPolicy controls how often a failing command is re-dispatched.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is four attempts two seconds apart.
//
//nolint:gochecknoglobals // default value
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Delay: 2 * time.Second}

// Recorder receives every finished or abandoned execution.
type Recorder interface {
	RecordCommand(exec CommandExecution)
}

// Options configures a Runner.
type Options struct {
	// Cwd is the working directory for every command, normally the workspace root.
	Cwd string
	// CaptureDir holds one directory of capture files per session.
	CaptureDir string
	Env        []string
	Retry      RetryPolicy
	Classifier *Classifier
	Recorder   Recorder
}

// Runner dispatches commands through a Shell.
type Runner struct {
	shell   Shell
	opts    Options
	logger  *logx.Logger
	mu      sync.Mutex
	active  map[string]CommandExecution
	reapers sync.WaitGroup
}

// NewRunner creates a runner. Zero retry settings fall back to DefaultRetryPolicy.
func NewRunner(shell Shell, opts Options) *Runner {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if opts.Retry.Delay < 0 {
		opts.Retry.Delay = 0
	}
	if opts.CaptureDir == "" {
		opts.CaptureDir = filepath.Join(os.TempDir(), "taskpilot", "captures")
	}
	return &Runner{
		shell:  shell,
		opts:   opts,
		logger: logx.NewLogger("exec"),
		active: make(map[string]CommandExecution),
	}
}

// IsLongRunning reports whether command would be dispatched without waiting.
func (r *Runner) IsLongRunning(command string) bool {
	return r.opts.Classifier.IsLongRunning(command)
}

// Run executes command. Long-running commands are dispatched and abandoned. Other commands are
// awaited and retried on a non-zero exit; after the last attempt a *CommandFailedError is
// returned together with the final result. Cancelling ctx stops the waiting only.
func (r *Runner) Run(ctx context.Context, command string) (CommandResult, error) {
	if r.IsLongRunning(command) {
		return r.Launch(command)
	}

	var result CommandResult
	for attempt := 1; attempt <= r.opts.Retry.MaxAttempts; attempt++ {
		execution, err := r.runAttempt(ctx, command, attempt)
		result = newResult(execution, attempt)
		if err != nil {
			return result, err
		}
		if result.Success {
			return result, nil
		}

		r.logger.Warn("Command %q exited %d (attempt %d/%d)", command, execution.ExitCode, attempt, r.opts.Retry.MaxAttempts)
		if attempt == r.opts.Retry.MaxAttempts {
			break
		}
		if err := sleep(ctx, r.opts.Retry.Delay); err != nil {
			return result, err
		}
	}

	return result, &CommandFailedError{Execution: result.Execution, Attempts: result.Attempts}
}

// RunOnce executes command with a single attempt. Long-running commands are still abandoned.
func (r *Runner) RunOnce(ctx context.Context, command string) (CommandResult, error) {
	if r.IsLongRunning(command) {
		return r.Launch(command)
	}
	execution, err := r.runAttempt(ctx, command, 1)
	result := newResult(execution, 1)
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, &CommandFailedError{Execution: execution, Attempts: 1}
	}
	return result, nil
}

// Launch dispatches command without waiting for it. The process is reaped in the background.
func (r *Runner) Launch(command string) (CommandResult, error) {
	execution, session, err := r.start(command, 1, true)
	if err != nil {
		return newResult(execution, 1), err
	}

	execution.State = StateAbandoned
	r.track(execution)
	r.logger.Info("Dispatched long-running command %q (session %s)", command, execution.ID)
	r.record(execution)

	r.reapers.Add(1)
	go func() {
		defer r.reapers.Done()
		code, werr := session.Wait()
		r.untrack(execution.ID)
		r.logger.Debug("Long-running session %s ended with %d (%v)", execution.ID, code, werr)
	}()

	return newResult(execution, 1), nil
}

type waitResult struct {
	code int
	err  error
}

func (r *Runner) runAttempt(ctx context.Context, command string, attempt int) (CommandExecution, error) {
	execution, session, err := r.start(command, attempt, false)
	if err != nil {
		return execution, err
	}
	r.track(execution)
	r.logger.Debug("Running %q (session %s, attempt %d)", command, execution.ID, attempt)

	done := make(chan waitResult, 1)
	r.reapers.Add(1)
	go func() {
		defer r.reapers.Done()
		code, werr := session.Wait()
		r.untrack(execution.ID)
		done <- waitResult{code: code, err: werr}
	}()

	var wr waitResult
	select {
	case <-ctx.Done():
		r.logger.Warn("Stopped waiting for %q: %v", command, ctx.Err())
		return execution, ctx.Err()
	case wr = <-done:
	}

	execution.FinishedAt = time.Now()
	execution.State = StateCompleted
	execution.ExitCode = wr.code
	if wr.err != nil {
		r.logger.Warn("Session %s for %q: %v", execution.ID, command, wr.err)
	}
	r.readCaptures(&execution)
	r.record(execution)
	return execution, nil
}

func (r *Runner) start(command string, attempt int, longRunning bool) (CommandExecution, Session, error) {
	id := uuid.NewString()
	execution := CommandExecution{
		ID:          id,
		Command:     command,
		Cwd:         r.opts.Cwd,
		LongRunning: longRunning,
		State:       StateDispatched,
		Attempt:     attempt,
		StartedAt:   time.Now(),
	}

	dir := filepath.Join(r.opts.CaptureDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return execution, nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	session, err := r.shell.Start(SessionSpec{
		ID:           id,
		Command:      command,
		Cwd:          r.opts.Cwd,
		Env:          r.opts.Env,
		StdoutPath:   filepath.Join(dir, "stdout"),
		StderrPath:   filepath.Join(dir, "stderr"),
		ExitCodePath: filepath.Join(dir, "exitcode"),
	})
	if err != nil {
		execution.State = StateCompleted
		execution.ExitCode = -1
		execution.Stderr = err.Error()
		execution.FinishedAt = time.Now()
		return execution, nil, err
	}
	return execution, session, nil
}

// readCaptures loads stdout, stderr and the exit code written by the session.
func (r *Runner) readCaptures(execution *CommandExecution) {
	dir := filepath.Join(r.opts.CaptureDir, execution.ID)
	if data, err := os.ReadFile(filepath.Join(dir, "stdout")); err == nil {
		execution.Stdout = strings.TrimRight(string(data), "\n")
	}
	if data, err := os.ReadFile(filepath.Join(dir, "stderr")); err == nil {
		execution.Stderr = strings.TrimRight(string(data), "\n")
	}
	if data, err := os.ReadFile(filepath.Join(dir, "exitcode")); err == nil {
		if code, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil {
			execution.ExitCode = code
		}
	}
}

func (r *Runner) record(execution CommandExecution) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.RecordCommand(execution)
	}
}

func (r *Runner) track(execution CommandExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[execution.ID] = execution
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Active lists sessions whose process has not ended yet, oldest first.
func (r *Runner) Active() []CommandExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]CommandExecution, 0, len(r.active))
	for _, e := range r.active {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Drain waits until every started process has ended or ctx is done.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.reapers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d session(s) still running: %w", len(r.Active()), ctx.Err())
	}
}

func newResult(execution CommandExecution, attempts int) CommandResult {
	return CommandResult{
		Execution: execution,
		Success:   execution.Success(),
		Output:    execution.Output(),
		Attempts:  attempts,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCommandFailure reports whether err is a command failure rather than a cancellation or
// start error.
func IsCommandFailure(err error) bool {
	return errors.Is(err, ErrCommandFailed)
}

// Recorders fans every execution out to several recorders.
type Recorders []Recorder

// RecordCommand implements Recorder.
func (rs Recorders) RecordCommand(execution CommandExecution) {
	for _, r := range rs {
		if r != nil {
			r.RecordCommand(execution)
		}
	}
}
