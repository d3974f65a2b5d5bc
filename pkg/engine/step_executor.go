package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskpilot/pkg/llm"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/materialize"
	"taskpilot/pkg/templates"
)

// DefaultStepTimeout bounds one step, model call and commands included.
const DefaultStepTimeout = 60 * time.Second

// FileApplier applies parsed file and edit instructions. *materialize.Materializer implements it.
type FileApplier interface {
	Apply(ctx context.Context, change markers.Change) (materialize.Result, error)
}

// ExecutorOptions tunes a StepExecutor.
type ExecutorOptions struct {
	Timeout     time.Duration
	SettleDelay time.Duration
	Model       ModelOptions
}

// StepExecutor implements one plan step: ask the model, write the files, run the commands.
type StepExecutor struct {
	prompter *prompter
	files    FileApplier
	runner   CommandRunner
	opts     ExecutorOptions
	logger   *logx.Logger
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(client llm.Client, files FileApplier, runner CommandRunner, opts ExecutorOptions) (*StepExecutor, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStepTimeout
	}
	p, err := newPrompter(client, opts.Model)
	if err != nil {
		return nil, err
	}
	return &StepExecutor{
		prompter: p,
		files:    files,
		runner:   runner,
		opts:     opts,
		logger:   logx.NewLogger("step"),
	}, nil
}

type stepOutcome struct {
	result StepResult
	err    error
}

// Execute runs step under the step timeout. On timeout it returns ErrStepTimeout right away;
// the model call and commands it started are left to finish on their own.
func (e *StepExecutor) Execute(ctx context.Context, step markers.PlanStep, originalRequest, contextText string) (StepResult, error) {
	return e.execute(ctx, step, 0, originalRequest, contextText)
}

func (e *StepExecutor) execute(ctx context.Context, step markers.PlanStep, total int, request, contextText string) (StepResult, error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := make(chan stepOutcome, 1)
	go func() {
		res, err := e.work(stepCtx, step, total, request, contextText)
		done <- stepOutcome{result: res, err: err}
	}()

	out, finished := awaitOutcome(stepCtx, done)
	if !finished {
		out = stepOutcome{result: StepResult{Step: step}, err: stepCtx.Err()}
	}
	out.result.StartedAt = start
	out.result.Duration = time.Since(start)

	if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
		err := fmt.Errorf("%w: step %d after %s", ErrStepTimeout, step.Ordinal, e.opts.Timeout)
		out.result.Outcome = OutcomeTimedOut
		out.result.Error = err.Error()
		e.logger.Warn("%v", err)
		return out.result, err
	}
	if out.err != nil {
		out.result.Outcome = OutcomeFailed
		out.result.Error = out.err.Error()
	}
	return out.result, out.err
}

// awaitOutcome waits for the step or the deadline. A result that is ready when the deadline
// fires wins.
func awaitOutcome(ctx context.Context, done <-chan stepOutcome) (stepOutcome, bool) {
	select {
	case out := <-done:
		return out, true
	case <-ctx.Done():
		select {
		case out := <-done:
			return out, true
		default:
			return stepOutcome{}, false
		}
	}
}

func (e *StepExecutor) work(ctx context.Context, step markers.PlanStep, total int, request, contextText string) (StepResult, error) {
	res := StepResult{Step: step}

	resp, err := e.prompter.ask(ctx, PurposeStep, templates.StepTemplate, &templates.TemplateData{
		Request:     request,
		Context:     contextText,
		StepNumber:  step.Ordinal,
		StepTotal:   total,
		StepText:    step.Text,
		LongRunning: step.LongRunning,
	})
	res.Usage = resp.Usage
	if err != nil {
		return res, err
	}

	in := markers.ParseInstructions(resp.Content)
	res.Warnings = append(res.Warnings, in.Warnings...)
	if in.Empty() {
		planned := markers.ParseInstructions(step.Text)
		if planned.Empty() {
			res.Warnings = append(res.Warnings, "response contained no files, edits or commands")
		} else {
			e.logger.Info("Step %d response had no instructions, applying the ones in the plan", step.Ordinal)
			res.Warnings = append(res.Warnings, "response contained no instructions; applied the plan step's instructions")
			res.Warnings = append(res.Warnings, planned.Warnings...)
			in = planned
		}
	}

	// Files first: commands may depend on them.
	for _, change := range in.Changes() {
		fr, err := e.files.Apply(ctx, change)
		if err != nil {
			if errors.Is(err, materialize.ErrNotLonger) {
				e.logger.Warn("Skipping %s: %v", change.Target(), err)
				res.Warnings = append(res.Warnings, err.Error())
				continue
			}
			return res, fmt.Errorf("%w: %s: %w", ErrFileApply, change.Target(), err)
		}
		res.Files = append(res.Files, fr)
		res.Warnings = append(res.Warnings, fr.Warnings...)
	}

	for i, command := range in.Commands {
		if i > 0 {
			if err := sleep(ctx, e.opts.SettleDelay); err != nil {
				return res, err
			}
		}
		cr, err := e.runner.Run(ctx, command)
		res.Commands = append(res.Commands, cr)
		if err == nil {
			continue
		}
		if step.LongRunning && ctx.Err() == nil {
			e.logger.Warn("Ignoring failure in long-running step %d: %v", step.Ordinal, err)
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		return res, err
	}

	if step.LongRunning {
		res.Outcome = OutcomeLongRunning
	} else {
		res.Outcome = OutcomeSucceeded
	}
	return res, nil
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
