package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"taskpilot/pkg/exec"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/materialize"
	"taskpilot/pkg/templates"
)

// DefaultRecoveryConcurrency caps the recovery commands running at once.
const DefaultRecoveryConcurrency = 4

// RecoveryAttempt tracks the commands of one recovery cycle. The failed command is never
// issued, and no command is issued twice.
type RecoveryAttempt struct {
	FailedCommand string

	mu       sync.Mutex
	executed map[string]struct{}
}

// NewRecoveryAttempt starts a cycle for failedCommand, which may be empty.
func NewRecoveryAttempt(failedCommand string) *RecoveryAttempt {
	return &RecoveryAttempt{FailedCommand: failedCommand, executed: make(map[string]struct{})}
}

// Claim reserves command for execution. It returns false for the failed command and for
// commands already claimed in this cycle.
func (a *RecoveryAttempt) Claim(command string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailedCommand != "" && command == a.FailedCommand {
		return false
	}
	if _, seen := a.executed[command]; seen {
		return false
	}
	a.executed[command] = struct{}{}
	return true
}

// Executed lists the claimed commands, sorted.
func (a *RecoveryAttempt) Executed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.executed))
	for c := range a.executed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Failure describes a failed step handed to recovery.
type Failure struct {
	Step    markers.PlanStep
	Request string
	Context string
	// Result is what the step did before failing.
	Result StepResult
	Err    error
}

// RecoveryReport is the record of one recovery cycle.
type RecoveryReport struct {
	FailedCommand string
	Files         []materialize.Result
	Commands      []exec.CommandResult
	// Skipped holds commands that were not run: the failed command and repeats.
	Skipped   []string
	Warnings  []string
	Succeeded bool
	Usage     llm.Usage
}

// Recoverer asks the model to fix a failed step and applies the answer.
type Recoverer struct {
	prompter    *prompter
	files       FileApplier
	runner      CommandRunner
	concurrency int
	logger      *logx.Logger
}

// NewRecoverer creates a recoverer. concurrency <= 0 selects DefaultRecoveryConcurrency.
func NewRecoverer(client llm.Client, files FileApplier, runner CommandRunner, model ModelOptions, concurrency int) (*Recoverer, error) {
	p, err := newPrompter(client, model)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultRecoveryConcurrency
	}
	return &Recoverer{
		prompter:    p,
		files:       files,
		runner:      runner,
		concurrency: concurrency,
		logger:      logx.NewLogger("recovery"),
	}, nil
}

// Recover runs one recovery cycle. File changes are applied in document order, then the new
// commands run concurrently with a single attempt each. The cycle succeeds when at least one
// file change or command succeeds; otherwise the error wraps ErrRecoveryExhausted.
func (r *Recoverer) Recover(ctx context.Context, f Failure) (*RecoveryReport, error) {
	data := &templates.TemplateData{
		Request:    f.Request,
		Context:    f.Context,
		StepNumber: f.Step.Ordinal,
		StepText:   f.Step.Text,
		AlreadyRun: succeededCommands(f.Result.Commands),
	}
	var failed *exec.CommandFailedError
	if errors.As(f.Err, &failed) {
		data.FailedCommand = failed.Execution.Command
		data.ExitCode = failed.Execution.ExitCode
		data.Stdout = failed.Execution.Stdout
		data.Stderr = failed.Execution.Stderr
	} else if f.Err != nil {
		data.Failure = f.Err.Error()
	}

	attempt := NewRecoveryAttempt(data.FailedCommand)
	report := &RecoveryReport{FailedCommand: attempt.FailedCommand}

	resp, err := r.prompter.ask(ctx, PurposeRecovery, templates.RecoveryTemplate, data)
	report.Usage = resp.Usage
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrRecoveryExhausted, err)
	}

	in := markers.ParseInstructions(resp.Content)
	report.Warnings = append(report.Warnings, in.Warnings...)

	changed := 0
	for _, change := range in.Changes() {
		fr, err := r.files.Apply(ctx, change)
		if err != nil {
			r.logger.Warn("Recovery change to %s not applied: %v", change.Target(), err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", change.Target(), err))
			continue
		}
		report.Files = append(report.Files, fr)
		report.Warnings = append(report.Warnings, fr.Warnings...)
		if fr.Changed {
			changed++
		}
	}

	var commands []string
	for _, c := range in.Commands {
		if !attempt.Claim(c) {
			r.logger.Info("Not re-issuing %q", c)
			report.Skipped = append(report.Skipped, c)
			continue
		}
		commands = append(commands, c)
	}

	report.Commands = r.runAll(ctx, commands)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	succeeded := 0
	for i := range report.Commands {
		if report.Commands[i].Success {
			succeeded++
		}
	}
	report.Succeeded = changed > 0 || succeeded > 0
	r.logger.Info("Recovery of step %d: %d file change(s), %d/%d command(s) succeeded, %d skipped",
		f.Step.Ordinal, changed, succeeded, len(commands), len(report.Skipped))
	if !report.Succeeded {
		return report, fmt.Errorf("%w: step %d: no file change or command succeeded", ErrRecoveryExhausted, f.Step.Ordinal)
	}
	return report, nil
}

// runAll fans the commands out and waits for all of them. Results keep the input order.
func (r *Recoverer) runAll(ctx context.Context, commands []string) []exec.CommandResult {
	results := make([]exec.CommandResult, len(commands))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, command := range commands {
		g.Go(func() error {
			res, err := r.runner.RunOnce(ctx, command)
			if err != nil {
				r.logger.Warn("Recovery command %q: %v", command, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func succeededCommands(results []exec.CommandResult) []string {
	var out []string
	for i := range results {
		if results[i].Success {
			out = append(out, results[i].Execution.Command)
		}
	}
	return out
}
