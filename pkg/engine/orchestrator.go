package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/pkg/contextset"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/templates"
)

// maxSummaryWarnings bounds the warnings copied into a summary.
const maxSummaryWarnings = 10

// Options configures an Orchestrator.
type Options struct {
	// RunID identifies the run in status messages and history. Empty selects a new UUID.
	RunID               string
	Executor            ExecutorOptions
	Budget              contextset.Budget
	RecoveryConcurrency int

	Sinks    []StatusSink
	Observer Observer
	Store    RunStore
}

// Orchestrator drives one run: plan, execute every step, recover failed steps, summarize.
// An Orchestrator is single-use.
type Orchestrator struct {
	set       *contextset.Set
	prompter  *prompter
	executor  *StepExecutor
	recoverer *Recoverer
	opts      Options
	logger    *logx.Logger

	mu    sync.Mutex
	state State
}

// New creates an orchestrator. set may be nil for a run without workspace context.
func New(client llm.Client, set *contextset.Set, files FileApplier, runner CommandRunner, opts Options) (*Orchestrator, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	executor, err := NewStepExecutor(client, files, runner, opts.Executor)
	if err != nil {
		return nil, fmt.Errorf("failed to create step executor: %w", err)
	}
	recoverer, err := NewRecoverer(client, files, runner, opts.Executor.Model, opts.RecoveryConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create recoverer: %w", err)
	}
	p, err := newPrompter(client, opts.Executor.Model)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		set:       set,
		prompter:  p,
		executor:  executor,
		recoverer: recoverer,
		opts:      opts,
		logger:    logx.NewLogger("orchestrator"),
		state:     StateIdle,
	}, nil
}

// RunID returns the id of this run.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Plan builds the context text and asks the model for a plan without executing it.
func (o *Orchestrator) Plan(ctx context.Context, request string) ([]markers.PlanStep, llm.Usage, error) {
	contextText, err := o.contextText()
	if err != nil {
		return nil, llm.Usage{}, err
	}
	return o.plan(ctx, request, contextText)
}

func (o *Orchestrator) plan(ctx context.Context, request, contextText string) ([]markers.PlanStep, llm.Usage, error) {
	resp, err := o.prompter.ask(ctx, PurposePlan, templates.PlanTemplate, &templates.TemplateData{
		Request: request,
		Context: contextText,
	})
	if err != nil {
		return nil, resp.Usage, err
	}
	steps, err := markers.ParseSteps(resp.Content)
	if err != nil {
		return nil, resp.Usage, err
	}
	return steps, resp.Usage, nil
}

// Run executes request end to end. Only planning failures and cancellation abort a run; failed
// and timed out steps are recorded and the run continues. The summary is returned in every case.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Summary, error) {
	summary := &Summary{
		RunID:     o.opts.RunID,
		Request:   request,
		State:     StateIdle,
		StartedAt: time.Now(),
	}

	if err := o.transition(StatePlanning, 0, "planning %q", request); err != nil {
		return nil, err
	}

	err := o.run(ctx, request, summary)
	if err != nil {
		summary.Error = err.Error()
		if terr := o.transition(StateAborted, 0, "aborted: %v", err); terr != nil {
			o.logger.Error("%v", terr)
		}
	} else if terr := o.transition(StateCompleted, 0, "completed: %d succeeded, %d failed, %d long-running, %d timed out of %d",
		summary.Succeeded, summary.Failed, summary.LongRunning, summary.TimedOut, summary.Total); terr != nil {
		err = terr
	}

	o.finish(ctx, summary)
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, request string, summary *Summary) error {
	contextText, err := o.contextText()
	if err != nil {
		return err
	}

	steps, usage, err := o.plan(ctx, request, contextText)
	summary.Usage = summary.Usage.Add(usage)
	if err != nil {
		return err
	}
	summary.Plan = steps
	summary.Total = len(steps)

	if err := o.transition(StateExecuting, 0, "executing %d step(s)", len(steps)); err != nil {
		return err
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			o.skip(summary, steps[i:])
			return err
		}

		res, err := o.runStep(ctx, step, len(steps), request, contextText)
		summary.Steps = append(summary.Steps, res)
		summary.count(res)
		summary.Usage = summary.Usage.Add(res.Usage)
		if err != nil {
			o.skip(summary, steps[i+1:])
			return err
		}

		if text, cerr := o.contextText(); cerr == nil {
			contextText = text
		} else {
			o.logger.Warn("Keeping previous context text: %v", cerr)
		}
	}
	return nil
}

// runStep executes one step and, when it fails for a reason other than a timeout, runs one
// recovery cycle. The returned error is non-nil only when ctx was cancelled.
func (o *Orchestrator) runStep(ctx context.Context, step markers.PlanStep, total int, request, contextText string) (StepResult, error) {
	o.emit(step.Ordinal, "", "starting: %s", step.Title())

	res, err := o.executor.execute(ctx, step, total, request, contextText)
	switch {
	case err == nil:
	case errors.Is(err, ErrStepTimeout):
		o.logger.Warn("Step %d timed out, continuing", step.Ordinal)
	case ctx.Err() != nil:
		res.Outcome = OutcomeFailed
		return res, ctx.Err()
	default:
		if terr := o.transition(StateRecovering, step.Ordinal, "failed: %v", err); terr != nil {
			return res, terr
		}
		report, rerr := o.recoverer.Recover(ctx, Failure{
			Step:    step,
			Request: request,
			Context: contextText,
			Result:  res,
			Err:     err,
		})
		res.Recovery = report
		if report != nil {
			res.Usage = res.Usage.Add(report.Usage)
		}
		if ctx.Err() != nil {
			res.Outcome = OutcomeFailed
			return res, ctx.Err()
		}
		o.observeRecovery(rerr == nil)
		if rerr == nil {
			res.Outcome = OutcomeRecovered
			res.Error = ""
		} else {
			res.Outcome = OutcomeFailed
			res.Error = fmt.Sprintf("%v; %v", err, rerr)
		}
		verdict := "succeeded"
		if rerr != nil {
			verdict = "failed"
		}
		if terr := o.transition(StateExecuting, step.Ordinal, "recovery %s", verdict); terr != nil {
			return res, terr
		}
	}

	if o.opts.Observer != nil {
		o.opts.Observer.ObserveStep(string(res.Outcome))
	}
	if res.Error != "" {
		o.emit(step.Ordinal, res.Outcome, "%s: %s", res.Outcome, res.Error)
	} else {
		o.emit(step.Ordinal, res.Outcome, "%s", res.Outcome)
	}
	return res, nil
}

func (o *Orchestrator) skip(summary *Summary, steps []markers.PlanStep) {
	for _, step := range steps {
		res := StepResult{Step: step, Outcome: OutcomeSkipped}
		summary.Steps = append(summary.Steps, res)
		summary.count(res)
	}
}

func (o *Orchestrator) observeRecovery(success bool) {
	if o.opts.Observer != nil {
		o.opts.Observer.ObserveRecovery(success)
	}
}

func (o *Orchestrator) contextText() (string, error) {
	if o.set == nil {
		return "", nil
	}
	text, err := contextset.BuildContext(o.set, o.opts.Budget)
	if err != nil {
		return "", fmt.Errorf("failed to build context: %w", err)
	}
	return text, nil
}

func (o *Orchestrator) finish(ctx context.Context, summary *Summary) {
	summary.State = o.State()
	summary.Duration = time.Since(summary.StartedAt)

	entries := logx.RecentEntries(summary.StartedAt, logx.LevelWarn, logx.LevelError)
	if len(entries) > maxSummaryWarnings {
		entries = entries[len(entries)-maxSummaryWarnings:]
	}
	for i := range entries {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("[%s] %s", entries[i].Component, entries[i].Message))
	}

	if o.opts.Store != nil {
		if err := o.opts.Store.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
			o.logger.Error("Failed to save run %s: %v", summary.RunID, err)
		}
	}
}

// transition moves the state machine and reports the new state to the sinks.
func (o *Orchestrator) transition(to State, step int, format string, args ...any) error {
	o.mu.Lock()
	from := o.state
	if !IsValidTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	o.mu.Unlock()

	logx.DebugState(context.Background(), "engine", "transition", string(to), "from "+string(from))
	o.emit(step, "", format, args...)
	return nil
}

func (o *Orchestrator) emit(step int, outcome Outcome, format string, args ...any) {
	status := Status{
		Time:    time.Now(),
		RunID:   o.opts.RunID,
		State:   o.State(),
		Step:    step,
		Outcome: outcome,
		Message: fmt.Sprintf(format, args...),
	}
	o.logger.Info("%s", status)
	for _, sink := range o.opts.Sinks {
		sink.Status(status)
	}
}
