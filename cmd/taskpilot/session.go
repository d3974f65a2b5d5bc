package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"taskpilot/pkg/config"
	"taskpilot/pkg/contextset"
	"taskpilot/pkg/engine"
	"taskpilot/pkg/eventlog"
	"taskpilot/pkg/exec"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/middleware/metrics"
	"taskpilot/pkg/llm/providers"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/materialize"
	promrec "taskpilot/pkg/metrics"
	"taskpilot/pkg/persistence"
	"taskpilot/pkg/utils"
)

// sessionOptions selects which parts of the stack a command needs.
type sessionOptions struct {
	request  string
	include  []string
	exclude  []string
	record   bool // history database and event log
	watch    bool
	progress io.Writer
}

// session is the wired stack for one run: context set, model client, runner and sinks.
type session struct {
	app    *app
	runID  string
	set    *contextset.Set
	client llm.Client
	prom   *promrec.PrometheusRecorder
	runner *exec.Runner
	orch   *engine.Orchestrator

	watcher  *contextset.Watcher
	store    *persistence.Store
	recorder *persistence.RunRecorder
	events   *eventlog.Writer
	logger   *logx.Logger
}

func newSession(ctx context.Context, a *app, opts sessionOptions) (s *session, err error) {
	cfg := &a.cfg
	s = &session{
		app:    a,
		runID:  uuid.NewString(),
		prom:   promrec.NewPrometheusRecorder(),
		logger: logx.NewLogger("cli"),
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if s.set, err = buildContextSet(a, opts.include, opts.exclude); err != nil {
		return nil, err
	}

	if opts.watch && cfg.Context.Watch {
		if s.watcher, err = contextset.NewWatcher(s.set); err != nil {
			return nil, fmt.Errorf("failed to create workspace watcher: %w", err)
		}
		if err := s.watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start workspace watcher: %w", err)
		}
	}

	llmRecorders := []metrics.Recorder{s.prom}
	cmdRecorders := exec.Recorders{s.prom}
	sinks := []engine.StatusSink{newStatusPrinter(opts.progress)}
	var store engine.RunStore

	if opts.record {
		if cfg.Persistence.Enabled {
			if s.store, err = persistence.Open(a.path(cfg.Persistence.DBPath)); err != nil {
				return nil, err
			}
			s.recorder, err = s.store.StartRun(ctx, &persistence.Run{
				ID:        s.runID,
				Request:   opts.request,
				Model:     cfg.Model.Name,
				Workspace: a.workspace,
			})
			if err != nil {
				return nil, err
			}
			llmRecorders = append(llmRecorders, s.recorder)
			cmdRecorders = append(cmdRecorders, s.recorder)
			store = s.recorder
		}
		if cfg.Events.Dir != "" {
			if s.events, err = eventlog.NewWriter(a.path(cfg.Events.Dir)); err != nil {
				return nil, err
			}
			sinks = append(sinks, s.events)
		}
	}

	if s.client, err = providers.NewFactory(metrics.MultiRecorder(llmRecorders...)).Create(cfg); err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	classifier, err := exec.NewClassifier(cfg.Execution.LongRunningPatterns...)
	if err != nil {
		return nil, err
	}
	s.runner = exec.NewRunner(exec.NewLocalShell(cfg.Execution.Shell), exec.Options{
		Cwd:        a.workspace,
		CaptureDir: a.path(cfg.Execution.CaptureDir),
		Retry: exec.RetryPolicy{
			MaxAttempts: cfg.Execution.CommandMaxAttempts,
			Delay:       cfg.Execution.CommandRetryDelay.Duration,
		},
		Classifier: classifier,
		Recorder:   cmdRecorders,
	})

	files := materialize.New(a.workspace, s.set, materialize.Options{
		SettleDelay: cfg.Execution.SettleDelay.Duration,
		Observer:    s.prom,
	})

	instructions, err := utils.LoadInstructions(a.path(config.StateDirName))
	if err != nil {
		return nil, err
	}

	orchOpts := engine.Options{
		RunID: s.runID,
		Executor: engine.ExecutorOptions{
			Timeout:     cfg.Execution.StepTimeout.Duration,
			SettleDelay: cfg.Execution.SettleDelay.Duration,
			Model: engine.ModelOptions{
				MaxTokens:    cfg.Model.MaxTokens,
				Temperature:  cfg.Model.Temperature,
				Instructions: instructions,
			},
		},
		Budget:   contextBudget(cfg),
		Sinks:    sinks,
		Observer: s.prom,
		Store:    store,
	}
	if s.orch, err = engine.New(s.client, s.set, files, s.runner, orchOpts); err != nil {
		return nil, err
	}
	return s, nil
}

// close stops the watcher and flushes the history, event log and metrics snapshot. Abandoned
// long-running sessions are left running.
func (s *session) close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.recorder != nil {
		s.recorder.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("%v", err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Warn("%v", err)
		}
	}
	if out := s.app.cfg.Metrics.Output; out != "" {
		if err := s.prom.WriteTextfile(s.app.path(out)); err != nil {
			s.logger.Warn("%v", err)
		}
	}
}

// buildContextSet creates and populates the context set. A non-empty include list replaces the
// configured globs; exclude globs are added to the configured ones.
func buildContextSet(a *app, include, exclude []string) (*contextset.Set, error) {
	cfg := &a.cfg
	if len(include) == 0 {
		include = cfg.Context.Include
	}
	exclude = append(append([]string(nil), cfg.Context.Exclude...), exclude...)
	if err := contextset.ValidatePatterns(append(append([]string(nil), include...), exclude...)); err != nil {
		return nil, err
	}
	set := contextset.New(a.workspace, contextset.Options{MaxSize: cfg.Context.MaxSize, Include: include, Exclude: exclude})
	if err := set.Rebuild(); err != nil {
		return nil, fmt.Errorf("failed to build context set: %w", err)
	}
	return set, nil
}

// contextBudget is the prompt budget for the configured model.
func contextBudget(cfg *config.Config) contextset.Budget {
	budget := contextset.Budget{
		IncludeFileContents: cfg.Context.IncludeFileContents,
		MaxTokens:           cfg.Context.MaxContextTokens,
	}
	if counter, err := utils.NewTokenCounter(cfg.Model.Name); err == nil {
		budget.Counter = counter
	}
	return budget
}
